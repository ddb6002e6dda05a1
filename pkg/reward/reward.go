// Package reward derives scalar training rewards from pipeline and
// episode outcomes and streams training episodes as JSONL.
package reward

import (
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// CheckpointWeights are the per-pass component weights.
type CheckpointWeights struct {
	Validation   float64
	Verification float64
	Efficiency   float64
	Completion   float64
}

func DefaultCheckpointWeights() CheckpointWeights {
	return CheckpointWeights{Validation: 0.2, Verification: 0.3, Efficiency: 0.1, Completion: 0.4}
}

// CheckpointReward scores a single pipeline pass.
type CheckpointReward struct {
	Weights CheckpointWeights
	// TargetDurationMs is the duration at which efficiency is 1.0.
	TargetDurationMs int64
	clock            func() time.Time
}

func NewCheckpointReward() *CheckpointReward {
	return &CheckpointReward{
		Weights:          DefaultCheckpointWeights(),
		TargetDurationMs: 1000,
		clock:            time.Now,
	}
}

func (c *CheckpointReward) WithClock(clock func() time.Time) *CheckpointReward {
	c.clock = clock
	return c
}

// Compute scores one pipeline result. Subscores are 0/1 except
// efficiency, which decays linearly past the target duration.
func (c *CheckpointReward) Compute(res *contracts.PipelineResult) contracts.RewardSignal {
	validation := 0.0
	if res.Validation != nil && res.Validation.Valid {
		validation = 1.0
	}
	verification := 1.0
	if res.Verification != nil && res.Verification.HasCriticalFailure {
		verification = 0.0
	}
	completion := 0.0
	if res.Success {
		completion = 1.0
	}
	efficiency := c.efficiency(res.DurationMs)

	w := c.Weights
	total := clamp01(w.Validation*validation + w.Verification*verification +
		w.Efficiency*efficiency + w.Completion*completion)

	return contracts.RewardSignal{
		Total: total,
		Breakdown: map[string]float64{
			"validation":   validation,
			"verification": verification,
			"efficiency":   efficiency,
			"completion":   completion,
		},
		Dimensions: []string{"validation", "verification", "efficiency", "completion"},
		ComputedAt: c.clock(),
	}
}

// efficiency is 1 at or under the target and decays by half the
// relative overshoot: max(0, 1 - 0.5*(d/target - 1)).
func (c *CheckpointReward) efficiency(durationMs int64) float64 {
	if c.TargetDurationMs <= 0 || durationMs <= c.TargetDurationMs {
		return 1.0
	}
	ratio := float64(durationMs) / float64(c.TargetDurationMs)
	e := 1.0 - 0.5*(ratio-1.0)
	if e < 0 {
		return 0
	}
	return e
}

// EpisodeWeights are the per-episode component weights.
type EpisodeWeights struct {
	Step    float64
	Drift   float64
	Anomaly float64
	Success float64
}

func DefaultEpisodeWeights() EpisodeWeights {
	return EpisodeWeights{Step: 0.5, Drift: 0.2, Anomaly: 0.1, Success: 0.2}
}

// EpisodeReward scores a whole orchestrated run.
type EpisodeReward struct {
	Weights    EpisodeWeights
	checkpoint *CheckpointReward
	clock      func() time.Time
}

func NewEpisodeReward(checkpoint *CheckpointReward) *EpisodeReward {
	if checkpoint == nil {
		checkpoint = NewCheckpointReward()
	}
	return &EpisodeReward{
		Weights:    DefaultEpisodeWeights(),
		checkpoint: checkpoint,
		clock:      time.Now,
	}
}

func (e *EpisodeReward) WithClock(clock func() time.Time) *EpisodeReward {
	e.clock = clock
	e.checkpoint.clock = clock
	return e
}

// Compute aggregates the mean per-step checkpoint reward with drift and
// anomaly penalties and a success bonus.
func (e *EpisodeReward) Compute(res *contracts.OrchestratedResult) contracts.RewardSignal {
	stepMean := 0.0
	if n := len(res.Executions); n > 0 {
		sum := 0.0
		for i := range res.Executions {
			sum += e.checkpoint.Compute(&res.Executions[i]).Total
		}
		stepMean = sum / float64(n)
	}

	drift := 0.0
	if res.AuditReport != nil {
		drift = res.AuditReport.Drift.Score
	}
	driftPenalty := min01(2 * drift)
	anomalyPenalty := min01(0.25 * float64(len(res.Anomalies)))

	success := 0.0
	if res.Success {
		success = 1.0
	}

	w := e.Weights
	total := clamp01(w.Step*stepMean + w.Drift*(1-driftPenalty) +
		w.Anomaly*(1-anomalyPenalty) + w.Success*success)

	return contracts.RewardSignal{
		Total: total,
		Breakdown: map[string]float64{
			"stepMean":       stepMean,
			"driftPenalty":   driftPenalty,
			"anomalyPenalty": anomalyPenalty,
			"success":        success,
		},
		Dimensions: []string{"stepMean", "driftPenalty", "anomalyPenalty", "success"},
		ComputedAt: e.clock(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func min01(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
