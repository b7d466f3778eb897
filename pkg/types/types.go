package types

import (
	"time"
)

// User represents a platform account that owns projects.
type User struct {
	ID        string
	Email     string
	PlanType  string
	CreatedAt time.Time
}

// Project groups deployments under a single owner.
type Project struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

// Deployment is the managed lifecycle of one sandbox plus its metadata.
type Deployment struct {
	ID             string
	ProjectID      string
	UserID         string
	Status         DeploymentStatus
	RuntimeKind    RuntimeKind
	SandboxID      string // set once provisioning starts, cleared on destroy
	PublicURL      string // set on first entry into running, immutable after
	InstanceCount  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
}

// DeploymentStatus represents the lifecycle state of a deployment.
type DeploymentStatus string

const (
	StatusPending      DeploymentStatus = "pending"
	StatusProvisioning DeploymentStatus = "provisioning"
	StatusBuilding     DeploymentStatus = "building"
	StatusRunning      DeploymentStatus = "running"
	StatusStopped      DeploymentStatus = "stopped"
	StatusFailed       DeploymentStatus = "failed"
	StatusDestroyed    DeploymentStatus = "destroyed"
)

// IsTerminal reports whether no further transition is legal from s.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusDestroyed
}

// legalTransitions enumerates every permitted status edge. Anything
// missing here is a programmer error, not a recoverable condition.
var legalTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:      {StatusProvisioning, StatusFailed, StatusDestroyed},
	StatusProvisioning: {StatusBuilding, StatusFailed, StatusDestroyed},
	StatusBuilding:     {StatusRunning, StatusFailed, StatusDestroyed},
	StatusRunning:      {StatusStopped, StatusFailed, StatusDestroyed},
	StatusStopped:      {StatusDestroyed},
}

// CanTransition reports whether moving from s to next is a legal edge
// of the deployment state machine.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RuntimeKind classifies how a deployment's file set was produced.
type RuntimeKind string

const (
	RuntimeGenericNode       RuntimeKind = "generic_node"
	RuntimeManifestGenerated RuntimeKind = "manifest_generated"
)

// MetricName identifies a metric an autoscaling threshold can observe.
type MetricName string

const (
	MetricCPU          MetricName = "cpu"
	MetricMemory       MetricName = "memory"
	MetricRequests     MetricName = "requests"
	MetricResponseTime MetricName = "response_time"
	MetricErrorRate    MetricName = "error_rate"
)

// Comparison is the operator a threshold applies to a normalized metric.
type Comparison string

const (
	CompareGT  Comparison = "gt"
	CompareGTE Comparison = "gte"
	CompareLT  Comparison = "lt"
	CompareLTE Comparison = "lte"
)

// MetricThreshold is one weighted trigger inside a scaling policy.
type MetricThreshold struct {
	Metric     MetricName
	Threshold  float64 // [0,1], compared against the normalized metric
	Comparison Comparison
	Weight     float64 // [0,1], weights across a policy should sum to ~1
}

// ScalingPolicy binds a weighted decision rule to exactly one deployment.
type ScalingPolicy struct {
	ID                 string
	DeploymentID       string
	Name               string
	Thresholds         []MetricThreshold
	ScaleUpThreshold   float64 // [0,1], must exceed ScaleDownThreshold
	ScaleDownThreshold float64
	Cooldown           time.Duration
	MinInstances       int // 1 <= min <= max <= 100
	MaxInstances       int
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ScalingEventKind classifies an entry in the scaling audit trail.
type ScalingEventKind string

const (
	ScaleUp        ScalingEventKind = "scale_up"
	ScaleDown      ScalingEventKind = "scale_down"
	ManualOverride ScalingEventKind = "manual_override"
)

// ScalingEvent is an append-only audit record of one scaling action.
type ScalingEvent struct {
	ID            string
	DeploymentID  string
	PolicyID      string // empty for manual overrides without a policy
	Kind          ScalingEventKind
	FromInstances int
	ToInstances   int
	Reason        string
	Metrics       map[string]float64 // raw snapshot at decision time
	CreatedAt     time.Time
}

// ResourceSample is one usage data point for a deployment.
type ResourceSample struct {
	Timestamp   time.Time
	CPUPct      float64
	MemoryPct   float64
	NetworkIO   float64
	DiskIO      float64
	CostPerHour float64
}

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogSource identifies which part of the platform produced a log entry.
type LogSource string

const (
	SourceSystem      LogSource = "system"
	SourceApplication LogSource = "application"
	SourceBuild       LogSource = "build"
	SourceDeployment  LogSource = "deployment"
)

// LogEntry is one line in a deployment's log stream. Sequence is the
// per-deployment monotonically increasing insertion index.
type LogEntry struct {
	ID           string
	DeploymentID string
	Timestamp    time.Time
	Level        LogLevel
	Source       LogSource
	Message      string
	Data         map[string]string
	Tags         []string
	Sequence     int64
}

// RecommendationKind classifies why a recommendation was emitted.
type RecommendationKind string

const (
	RecommendDownsize   RecommendationKind = "downsize"
	RecommendUpsize     RecommendationKind = "upsize"
	RecommendAggressive RecommendationKind = "aggressive_policy"
)

// Recommendation is a right-sizing suggestion for a deployment.
type Recommendation struct {
	ID           string
	DeploymentID string
	Kind         RecommendationKind
	Resource     string // "cpu", "memory", "policy"
	Suggestion   string
	EstimatedPct float64 // positive = savings, negative = added cost
	CreatedAt    time.Time
}

// BudgetConfig pairs a monthly dollar limit with alert thresholds.
type BudgetConfig struct {
	DeploymentID string
	MonthlyLimit float64
	WarningPct   float64 // e.g. 80
	CriticalPct  float64 // e.g. 95
}

// EnvironmentConfig is a named environment bound to a project.
type EnvironmentConfig struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnvironmentVariable is one key/value pair inside an environment.
type EnvironmentVariable struct {
	ID        string
	ConfigID  string
	Key       string
	Value     string
	Secret    bool
	UpdatedAt time.Time
}

// ConfigAuditLog records a mutation to environment configuration.
type ConfigAuditLog struct {
	ID        string
	ConfigID  string
	UserID    string
	Action    string
	Detail    string
	CreatedAt time.Time
}
