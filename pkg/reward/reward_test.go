package reward

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

func successResult(durationMs int64) *contracts.PipelineResult {
	return &contracts.PipelineResult{
		Success:      true,
		Result:       "ok",
		Validation:   &contracts.ValidationResult{Valid: true},
		Verification: &contracts.VerificationReport{Status: contracts.VerificationPassed},
		DurationMs:   durationMs,
	}
}

func TestCheckpointPerfectPass(t *testing.T) {
	cr := NewCheckpointReward()
	sig := cr.Compute(successResult(500))
	assert.InDelta(t, 1.0, sig.Total, 1e-9)
	assert.Equal(t, 1.0, sig.Breakdown["validation"])
	assert.Equal(t, 1.0, sig.Breakdown["completion"])
}

func TestCheckpointInvalidCall(t *testing.T) {
	cr := NewCheckpointReward()
	sig := cr.Compute(&contracts.PipelineResult{
		Validation: &contracts.ValidationResult{Valid: false},
		DurationMs: 10,
	})
	// Verification and efficiency still score without reports.
	assert.InDelta(t, 0.3+0.1, sig.Total, 1e-9)
	assert.Zero(t, sig.Breakdown["validation"])
	assert.Zero(t, sig.Breakdown["completion"])
}

func TestCheckpointCriticalVerification(t *testing.T) {
	cr := NewCheckpointReward()
	res := successResult(100)
	res.Success = false
	res.Verification.HasCriticalFailure = true
	sig := cr.Compute(res)
	assert.Zero(t, sig.Breakdown["verification"])
	assert.InDelta(t, 0.2+0.1, sig.Total, 1e-9)
}

func TestEfficiencyDecay(t *testing.T) {
	cr := NewCheckpointReward()
	cr.TargetDurationMs = 1000

	assert.Equal(t, 1.0, cr.efficiency(500))
	assert.Equal(t, 1.0, cr.efficiency(1000))
	// Double the target loses half the score.
	assert.InDelta(t, 0.5, cr.efficiency(2000), 1e-9)
	assert.Zero(t, cr.efficiency(3001))
}

func TestEpisodeRewardAggregation(t *testing.T) {
	er := NewEpisodeReward(nil)
	res := &contracts.OrchestratedResult{
		Executions:  []contracts.PipelineResult{*successResult(100), *successResult(200)},
		AuditReport: &contracts.AuditReport{Drift: contracts.DriftReport{Score: 0.1}},
		Success:     true,
	}
	sig := er.Compute(res)
	assert.InDelta(t, 1.0, sig.Breakdown["stepMean"], 1e-9)
	assert.InDelta(t, 0.2, sig.Breakdown["driftPenalty"], 1e-9)
	assert.Zero(t, sig.Breakdown["anomalyPenalty"])
	// 0.5*1 + 0.2*0.8 + 0.1*1 + 0.2*1
	assert.InDelta(t, 0.96, sig.Total, 1e-9)
}

func TestEpisodePenaltiesClamp(t *testing.T) {
	er := NewEpisodeReward(nil)
	res := &contracts.OrchestratedResult{
		AuditReport: &contracts.AuditReport{Drift: contracts.DriftReport{Score: 0.9}},
		Anomalies:   make([]contracts.Anomaly, 10),
	}
	sig := er.Compute(res)
	assert.Equal(t, 1.0, sig.Breakdown["driftPenalty"])
	assert.Equal(t, 1.0, sig.Breakdown["anomalyPenalty"])
	assert.GreaterOrEqual(t, sig.Total, 0.0)
	assert.LessOrEqual(t, sig.Total, 1.0)
}

func TestCollectEpisodeStreamsJSONL(t *testing.T) {
	var buf bytes.Buffer
	tc := NewTraceCollector(&buf)

	res := &contracts.OrchestratedResult{
		Executions: []contracts.PipelineResult{*successResult(100)},
		Success:    true,
	}
	req := &contracts.OrchestratedRequest{Description: "d", Source: contracts.SourceUser}

	ep, err := tc.CollectEpisode(res, req)
	require.NoError(t, err)
	assert.True(t, ep.UsableForTraining)
	require.Len(t, ep.Examples, 1)
	assert.Equal(t, contracts.VerificationPassed, ep.Examples[0].Verification)

	scanner := bufio.NewScanner(&buf)
	require.True(t, scanner.Scan())
	var decoded contracts.Episode
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
	assert.Equal(t, ep.ID, decoded.ID)
	assert.False(t, scanner.Scan())
}

func TestGamingDetectorFlagsEpisode(t *testing.T) {
	tc := NewTraceCollector(nil)

	res := &contracts.OrchestratedResult{
		Executions: []contracts.PipelineResult{
			{Success: true, Result: nil, DurationMs: 50},
			{Success: true, Result: "x", DurationMs: 0},
		},
		Success: true,
	}
	ep, err := tc.CollectEpisode(res, nil)
	require.NoError(t, err)
	assert.False(t, ep.UsableForTraining)
	assert.Contains(t, ep.GamingSignals, SignalEmptyOutputs)
	assert.Contains(t, ep.GamingSignals, SignalDurationlessSuccess)
}

func TestFailedStepsAreNotGamingSignals(t *testing.T) {
	tc := NewTraceCollector(nil)
	res := &contracts.OrchestratedResult{
		Executions: []contracts.PipelineResult{
			{Success: false, Error: "boom", DurationMs: 0},
		},
	}
	ep, err := tc.CollectEpisode(res, nil)
	require.NoError(t, err)
	assert.True(t, ep.UsableForTraining)
}
