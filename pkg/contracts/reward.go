package contracts

import "time"

// RewardSignal is a scalar training reward with its component breakdown.
// Total is always clamped to [0,1].
type RewardSignal struct {
	Total      float64            `json:"total"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Dimensions []string           `json:"dimensions,omitempty"`
	ComputedAt time.Time          `json:"computedAt"`
}

// TrainingExample is one per-step record inside an episode.
type TrainingExample struct {
	Input        map[string]any `json:"input"`
	Output       any            `json:"output,omitempty"`
	Verification string         `json:"verification,omitempty"`
	Reward       float64        `json:"reward"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Episode is a streamable training record for one orchestrated run.
// Episodes flagged by the gaming detector stay in the stream but carry
// UsableForTraining=false.
type Episode struct {
	ID                string            `json:"id"`
	Examples          []TrainingExample `json:"examples"`
	EpisodeReward     RewardSignal      `json:"episodeReward"`
	UsableForTraining bool              `json:"usableForTraining"`
	GamingSignals     []string          `json:"gamingSignals,omitempty"`
	CollectedAt       time.Time         `json:"collectedAt"`
}
