// Package config loads the kernel profile from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/approval"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/eventlog"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/orchestrator"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/pipeline"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/safemode"
)

// Profile is the full kernel configuration.
type Profile struct {
	Name          string              `yaml:"name" json:"name"`
	LogLevel      string              `yaml:"log_level" json:"log_level"`
	Events        EventsConfig        `yaml:"events" json:"events"`
	Approval      ApprovalConfig      `yaml:"approval" json:"approval"`
	Pipeline      PipelineConfig      `yaml:"pipeline" json:"pipeline"`
	SafeMode      SafeModeConfig      `yaml:"safe_mode" json:"safe_mode"`
	RoleCall      RoleCallConfig      `yaml:"role_call" json:"role_call"`
	Authorization AuthorizationConfig `yaml:"authorization" json:"authorization"`
	Admission     AdmissionConfig     `yaml:"admission" json:"admission"`
	Retention     RetentionConfig     `yaml:"retention" json:"retention"`
}

type EventsConfig struct {
	MaxEvents     int           `yaml:"max_events" json:"max_events"`
	RetentionDays int           `yaml:"retention_days" json:"retention_days"`
	DatabaseURL   string        `yaml:"database_url,omitempty" json:"database_url,omitempty"`
	QueryTimeout  time.Duration `yaml:"query_timeout" json:"query_timeout"`
}

type ApprovalConfig struct {
	AutoApproveReadOnly bool          `yaml:"auto_approve_read_only" json:"auto_approve_read_only"`
	AutoApproveSources  []string      `yaml:"auto_approve_sources" json:"auto_approve_sources"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	TokenSecret         string        `yaml:"token_secret,omitempty" json:"-"`
	TokenIssuer         string        `yaml:"token_issuer,omitempty" json:"token_issuer,omitempty"`
}

type PipelineConfig struct {
	DefaultExecutionTimeout time.Duration `yaml:"default_execution_timeout" json:"default_execution_timeout"`
}

type SafeModeConfig struct {
	ErrorThreshold int           `yaml:"error_threshold" json:"error_threshold"`
	Cooldown       time.Duration `yaml:"cooldown" json:"cooldown"`
}

type RoleCallConfig struct {
	Timeout                 time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries              int           `yaml:"max_retries" json:"max_retries"`
	Backoff                 time.Duration `yaml:"backoff" json:"backoff"`
	MaxJitter               time.Duration `yaml:"max_jitter" json:"max_jitter"`
	CircuitBreakerThreshold uint32        `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerReset     time.Duration `yaml:"circuit_breaker_reset" json:"circuit_breaker_reset"`
}

type AuthorizationConfig struct {
	MinSourceTrust float64  `yaml:"min_source_trust" json:"min_source_trust"`
	AllowedSources []string `yaml:"allowed_sources" json:"allowed_sources"`
}

type AdmissionConfig struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
	RedisAddr string  `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
}

type RetentionConfig struct {
	ExportBeforeEviction bool   `yaml:"export_before_eviction" json:"export_before_eviction"`
	S3Bucket             string `yaml:"s3_bucket,omitempty" json:"s3_bucket,omitempty"`
	S3Region             string `yaml:"s3_region,omitempty" json:"s3_region,omitempty"`
	S3Endpoint           string `yaml:"s3_endpoint,omitempty" json:"s3_endpoint,omitempty"`
	S3Prefix             string `yaml:"s3_prefix,omitempty" json:"s3_prefix,omitempty"`
}

// Default returns the profile the kernel boots with when no file is
// given.
func Default() *Profile {
	return &Profile{
		Name:     "default",
		LogLevel: "INFO",
		Events: EventsConfig{
			MaxEvents:     100000,
			RetentionDays: 30,
			QueryTimeout:  5 * time.Second,
		},
		Approval: ApprovalConfig{
			AutoApproveReadOnly: true,
			AutoApproveSources:  []string{"system"},
			Timeout:             approval.DefaultTimeout,
		},
		Pipeline: PipelineConfig{
			DefaultExecutionTimeout: pipeline.DefaultExecutionTimeout,
		},
		SafeMode: SafeModeConfig{
			ErrorThreshold: safemode.DefaultErrorThreshold,
			Cooldown:       safemode.DefaultCooldown,
		},
		RoleCall: RoleCallConfig{
			Timeout:                 10 * time.Second,
			MaxRetries:              2,
			Backoff:                 100 * time.Millisecond,
			MaxJitter:               50 * time.Millisecond,
			CircuitBreakerThreshold: 5,
			CircuitBreakerReset:     30 * time.Second,
		},
		Authorization: AuthorizationConfig{
			MinSourceTrust: 0.6,
			AllowedSources: []string{"user", "system", "llm", "agent", "autonomy"},
		},
		Admission: AdmissionConfig{
			PerSecond: 10,
			Burst:     20,
		},
		Retention: RetentionConfig{
			ExportBeforeEviction: true,
		},
	}
}

// LoadFile reads a profile YAML and layers environment overrides on
// top of the defaults.
func LoadFile(path string) (*Profile, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	p.applyEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load returns the default profile with environment overrides.
func Load() *Profile {
	p := Default()
	p.applyEnv()
	return p
}

// applyEnv layers AUTOKERNEL_* variables over the profile.
func (p *Profile) applyEnv() {
	if v := os.Getenv("AUTOKERNEL_LOG_LEVEL"); v != "" {
		p.LogLevel = v
	}
	if v := os.Getenv("AUTOKERNEL_DATABASE_URL"); v != "" {
		p.Events.DatabaseURL = v
	}
	if v := os.Getenv("AUTOKERNEL_REDIS_ADDR"); v != "" {
		p.Admission.RedisAddr = v
	}
	if v := os.Getenv("AUTOKERNEL_TOKEN_SECRET"); v != "" {
		p.Approval.TokenSecret = v
	}
	if v := os.Getenv("AUTOKERNEL_S3_BUCKET"); v != "" {
		p.Retention.S3Bucket = v
	}
	if v := os.Getenv("AUTOKERNEL_S3_ENDPOINT"); v != "" {
		p.Retention.S3Endpoint = v
	}
	if v := os.Getenv("AUTOKERNEL_SAFE_MODE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.SafeMode.ErrorThreshold = n
		}
	}
	if v := os.Getenv("AUTOKERNEL_APPROVAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			p.Approval.Timeout = d
		}
	}
}

// Validate rejects profiles the kernel cannot safely run with.
func (p *Profile) Validate() error {
	if p.SafeMode.ErrorThreshold < 1 {
		return fmt.Errorf("config: safe_mode.error_threshold must be >= 1, got %d", p.SafeMode.ErrorThreshold)
	}
	if p.Authorization.MinSourceTrust < 0 || p.Authorization.MinSourceTrust > 1 {
		return fmt.Errorf("config: authorization.min_source_trust %v outside [0,1]", p.Authorization.MinSourceTrust)
	}
	if p.RoleCall.MaxRetries < 0 {
		return fmt.Errorf("config: role_call.max_retries must be >= 0, got %d", p.RoleCall.MaxRetries)
	}
	if p.Events.MaxEvents < 0 {
		return fmt.Errorf("config: events.max_events must be >= 0, got %d", p.Events.MaxEvents)
	}
	return nil
}

// EventlogOptions maps the profile onto the event store.
func (p *Profile) EventlogOptions() eventlog.Options {
	return eventlog.Options{
		MaxEvents: p.Events.MaxEvents,
		Retention: time.Duration(p.Events.RetentionDays) * 24 * time.Hour,
	}
}

// ApprovalPolicy maps the profile onto the approval gate.
func (p *Profile) ApprovalPolicy() approval.Policy {
	return approval.Policy{
		AutoApproveReadOnly: p.Approval.AutoApproveReadOnly,
		AutoApproveSources:  p.Approval.AutoApproveSources,
		Timeout:             p.Approval.Timeout,
	}
}

// PipelineOptions maps the profile onto the execution pipeline.
func (p *Profile) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		DefaultExecutionTimeout: p.Pipeline.DefaultExecutionTimeout,
	}
}

// SafeModeOptions maps the profile onto the safe mode controller.
func (p *Profile) SafeModeOptions() safemode.Options {
	return safemode.Options{
		ErrorThreshold: p.SafeMode.ErrorThreshold,
		Cooldown:       p.SafeMode.Cooldown,
	}
}

// RoleCallPolicy maps the profile onto orchestrator role calls.
func (p *Profile) RoleCallPolicy() orchestrator.RoleCallPolicy {
	return orchestrator.RoleCallPolicy{
		Timeout:                 p.RoleCall.Timeout,
		MaxRetries:              p.RoleCall.MaxRetries,
		Backoff:                 p.RoleCall.Backoff,
		MaxJitter:               p.RoleCall.MaxJitter,
		CircuitBreakerThreshold: p.RoleCall.CircuitBreakerThreshold,
		CircuitBreakerReset:     p.RoleCall.CircuitBreakerReset,
	}
}

// AuthorizationPolicy maps the profile onto orchestrator admission.
func (p *Profile) AuthorizationPolicy() orchestrator.Authorization {
	return orchestrator.Authorization{
		MinSourceTrust: p.Authorization.MinSourceTrust,
		AllowedSources: p.Authorization.AllowedSources,
	}
}
