package storage

import (
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
)

// Store defines the interface for control-plane state storage.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByEmail(email string) (*types.User, error)
	ListUsers() ([]*types.User, error)
	DeleteUser(id string) error

	// Projects
	CreateProject(project *types.Project) error
	GetProject(id string) (*types.Project, error)
	ListProjectsByUser(userID string) ([]*types.Project, error)
	DeleteProject(id string) error

	// Deployments
	CreateDeployment(d *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	ListDeployments() ([]*types.Deployment, error)
	ListDeploymentsByUser(userID string) ([]*types.Deployment, error)
	ListDeploymentsByProject(projectID string) ([]*types.Deployment, error)
	UpdateDeployment(d *types.Deployment) error
	DeleteDeployment(id string) error

	// Scaling policies
	CreatePolicy(p *types.ScalingPolicy) error
	GetPolicy(id string) (*types.ScalingPolicy, error)
	GetPolicyByDeployment(deploymentID string) (*types.ScalingPolicy, error)
	ListPolicies() ([]*types.ScalingPolicy, error)
	UpdatePolicy(p *types.ScalingPolicy) error
	DeletePolicy(id string) error

	// Scaling events (append-only audit)
	AppendScalingEvent(e *types.ScalingEvent) error
	ListScalingEvents(deploymentID string, limit, offset int) ([]*types.ScalingEvent, error)

	// Resource usage
	AppendResourceSample(deploymentID string, s *types.ResourceSample) error
	ListResourceSamples(deploymentID string, start, end time.Time) ([]*types.ResourceSample, error)

	// Optimization recommendations
	SaveRecommendation(r *types.Recommendation) error
	ListRecommendations(deploymentID string) ([]*types.Recommendation, error)

	// Environment configuration
	CreateEnvironmentConfig(c *types.EnvironmentConfig) error
	GetEnvironmentConfig(id string) (*types.EnvironmentConfig, error)
	ListEnvironmentConfigs(projectID string) ([]*types.EnvironmentConfig, error)
	SetEnvironmentVariable(v *types.EnvironmentVariable) error
	ListEnvironmentVariables(configID string) ([]*types.EnvironmentVariable, error)
	AppendConfigAudit(a *types.ConfigAuditLog) error
	ListConfigAudit(configID string, limit, offset int) ([]*types.ConfigAuditLog, error)

	// Archived log entries (loghub eviction hook)
	AppendLogEntries(entries []*types.LogEntry) error

	// Tx runs fn inside a single read-write transaction; any error rolls
	// the whole closure back.
	Tx(fn func(tx TxStore) error) error

	// Utility
	Close() error
}

// TxStore is the subset of operations available inside a transaction.
// Deployment status transitions persist through this so that the audit
// record and the row mutation commit together.
type TxStore interface {
	GetDeployment(id string) (*types.Deployment, error)
	UpdateDeployment(d *types.Deployment) error
	AppendScalingEvent(e *types.ScalingEvent) error
}
