package reward

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// Gaming signal names emitted by the detector.
const (
	SignalEmptyOutputs        = "empty_outputs"
	SignalDurationlessSuccess = "durationless_success"
)

// TraceCollector composes per-step training examples into episodes and
// streams them one JSON object per line.
type TraceCollector struct {
	mu         sync.Mutex
	out        io.Writer
	checkpoint *CheckpointReward
	episode    *EpisodeReward
	clock      func() time.Time
}

func NewTraceCollector(out io.Writer) *TraceCollector {
	cp := NewCheckpointReward()
	return &TraceCollector{
		out:        out,
		checkpoint: cp,
		episode:    NewEpisodeReward(cp),
		clock:      time.Now,
	}
}

func (tc *TraceCollector) WithClock(clock func() time.Time) *TraceCollector {
	tc.clock = clock
	tc.checkpoint.clock = clock
	tc.episode.clock = clock
	return tc
}

// CollectEpisode builds an episode from one orchestrated run, flags
// gaming patterns, and streams it. Gaming episodes are retained but
// marked unusable for training.
func (tc *TraceCollector) CollectEpisode(res *contracts.OrchestratedResult, req *contracts.OrchestratedRequest) (*contracts.Episode, error) {
	examples := make([]contracts.TrainingExample, 0, len(res.Executions))
	for i := range res.Executions {
		exec := &res.Executions[i]
		ex := contracts.TrainingExample{
			Input: map[string]any{
				"tool":      exec.ToolName,
				"requestId": exec.RequestID,
			},
			Output: exec.Result,
			Reward: tc.checkpoint.Compute(exec).Total,
			Metadata: map[string]any{
				"durationMs": exec.DurationMs,
				"success":    exec.Success,
			},
		}
		if exec.Verification != nil {
			ex.Verification = exec.Verification.Status
		}
		if req != nil {
			ex.Input["source"] = req.Source
			ex.Input["description"] = req.Description
		}
		examples = append(examples, ex)
	}

	signals := detectGaming(res)
	ep := &contracts.Episode{
		ID:                uuid.New().String(),
		Examples:          examples,
		EpisodeReward:     tc.episode.Compute(res),
		UsableForTraining: len(signals) == 0,
		GamingSignals:     signals,
		CollectedAt:       tc.clock(),
	}

	if tc.out != nil {
		line, err := json.Marshal(ep)
		if err != nil {
			return nil, fmt.Errorf("encode episode: %w", err)
		}
		tc.mu.Lock()
		_, err = tc.out.Write(append(line, '\n'))
		tc.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("stream episode: %w", err)
		}
	}
	return ep, nil
}

// detectGaming flags reward-hacking patterns: successful steps with no
// output, and successful steps reporting zero duration.
func detectGaming(res *contracts.OrchestratedResult) []string {
	var signals []string
	emptyOutputs := false
	durationless := false
	for i := range res.Executions {
		exec := &res.Executions[i]
		if !exec.Success {
			continue
		}
		if exec.Result == nil {
			emptyOutputs = true
		}
		if exec.DurationMs == 0 {
			durationless = true
		}
	}
	if emptyOutputs {
		signals = append(signals, SignalEmptyOutputs)
	}
	if durationless {
		signals = append(signals, SignalDurationlessSuccess)
	}
	return signals
}
