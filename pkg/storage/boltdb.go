package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers           = []byte("users")
	bucketProjects        = []byte("projects")
	bucketDeployments     = []byte("deployments")
	bucketPolicies        = []byte("scaling_policies")
	bucketScalingEvents   = []byte("scaling_events")
	bucketResourceUsage   = []byte("resource_usage")
	bucketRecommendations = []byte("optimization_recommendations")
	bucketEnvConfigs      = []byte("environment_configs")
	bucketEnvVariables    = []byte("environment_variables")
	bucketConfigAudit     = []byte("config_audit_logs")
	bucketLogArchive      = []byte("log_archive")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "deployd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketProjects,
			bucketDeployments,
			bucketPolicies,
			bucketScalingEvents,
			bucketResourceUsage,
			bucketRecommendations,
			bucketEnvConfigs,
			bucketEnvVariables,
			bucketConfigAudit,
			bucketLogArchive,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketUsers, user.ID, user)
	})
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketUsers, id, &user, "user")
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByEmail(email string) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if user.Email == email {
				found = &user
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, types.NotFoundf("user not found: %s", email)
	}
	return found, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

func (s *BoltStore) DeleteUser(id string) error {
	// Cascades to the user's projects, which cascade to deployments.
	projects, err := s.ListProjectsByUser(id)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := s.DeleteProject(p.ID); err != nil {
			return err
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

// Project operations

func (s *BoltStore) CreateProject(project *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// Referential integrity: project.user_id -> user.id
		if tx.Bucket(bucketUsers).Get([]byte(project.UserID)) == nil {
			return types.Validationf("project owner does not exist: %s", project.UserID)
		}
		return putJSON(tx, bucketProjects, project.ID, project)
	})
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var project types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketProjects, id, &project, "project")
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *BoltStore) ListProjectsByUser(userID string) ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var project types.Project
			if err := json.Unmarshal(v, &project); err != nil {
				return err
			}
			if project.UserID == userID {
				projects = append(projects, &project)
			}
			return nil
		})
	})
	return projects, err
}

func (s *BoltStore) DeleteProject(id string) error {
	deployments, err := s.ListDeploymentsByProject(id)
	if err != nil {
		return err
	}
	for _, d := range deployments {
		if err := s.DeleteDeployment(d.ID); err != nil {
			return err
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).Delete([]byte(id))
	})
}

// Deployment operations

func (s *BoltStore) CreateDeployment(d *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// Referential integrity: deployment.project_id -> project.id
		if tx.Bucket(bucketProjects).Get([]byte(d.ProjectID)) == nil {
			return types.Validationf("deployment project does not exist: %s", d.ProjectID)
		}
		return putJSON(tx, bucketDeployments, d.ID, d)
	})
}

func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		return getDeploymentTx(tx, id, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	return s.listDeployments(func(d *types.Deployment) bool { return true })
}

func (s *BoltStore) ListDeploymentsByUser(userID string) ([]*types.Deployment, error) {
	return s.listDeployments(func(d *types.Deployment) bool { return d.UserID == userID })
}

func (s *BoltStore) ListDeploymentsByProject(projectID string) ([]*types.Deployment, error) {
	return s.listDeployments(func(d *types.Deployment) bool { return d.ProjectID == projectID })
}

func (s *BoltStore) listDeployments(match func(*types.Deployment) bool) ([]*types.Deployment, error) {
	var deployments []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if match(&d) {
				deployments = append(deployments, &d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(deployments, func(i, j int) bool {
		if deployments[i].CreatedAt.Equal(deployments[j].CreatedAt) {
			return deployments[i].ID < deployments[j].ID
		}
		return deployments[i].CreatedAt.Before(deployments[j].CreatedAt)
	})
	return deployments, nil
}

func (s *BoltStore) UpdateDeployment(d *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketDeployments, d.ID, d)
	})
}

func (s *BoltStore) DeleteDeployment(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDeployments).Delete([]byte(id)); err != nil {
			return err
		}
		// Cascade the deployment's policy rows.
		b := tx.Bucket(bucketPolicies)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var p types.ScalingPolicy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.DeploymentID == id {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scaling policy operations

func (s *BoltStore) CreatePolicy(p *types.ScalingPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDeployments).Get([]byte(p.DeploymentID)) == nil {
			return types.Validationf("policy deployment does not exist: %s", p.DeploymentID)
		}
		return putJSON(tx, bucketPolicies, p.ID, p)
	})
}

func (s *BoltStore) GetPolicy(id string) (*types.ScalingPolicy, error) {
	var p types.ScalingPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketPolicies, id, &p, "scaling policy")
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) GetPolicyByDeployment(deploymentID string) (*types.ScalingPolicy, error) {
	var found *types.ScalingPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
			var p types.ScalingPolicy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.DeploymentID == deploymentID {
				found = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, types.NotFoundf("no policy for deployment: %s", deploymentID)
	}
	return found, nil
}

func (s *BoltStore) ListPolicies() ([]*types.ScalingPolicy, error) {
	var policies []*types.ScalingPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
			var p types.ScalingPolicy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			policies = append(policies, &p)
			return nil
		})
	})
	return policies, err
}

func (s *BoltStore) UpdatePolicy(p *types.ScalingPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketPolicies, p.ID, p)
	})
}

func (s *BoltStore) DeletePolicy(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).Delete([]byte(id))
	})
}

// Scaling event operations. Keys are deployment-prefixed and timestamp
// ordered so a prefix scan yields created_at order without an index.

func (s *BoltStore) AppendScalingEvent(e *types.ScalingEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return appendScalingEventTx(tx, e)
	})
}

func (s *BoltStore) ListScalingEvents(deploymentID string, limit, offset int) ([]*types.ScalingEvent, error) {
	var events []*types.ScalingEvent
	prefix := []byte(deploymentID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketScalingEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e types.ScalingEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Most recent first.
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return paginate(events, limit, offset), nil
}

// Resource usage operations

func (s *BoltStore) AppendResourceSample(deploymentID string, sample *types.ResourceSample) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := timeKey(deploymentID, sample.Timestamp, "")
		data, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketResourceUsage).Put(key, data)
	})
}

func (s *BoltStore) ListResourceSamples(deploymentID string, start, end time.Time) ([]*types.ResourceSample, error) {
	var samples []*types.ResourceSample
	prefix := []byte(deploymentID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketResourceUsage).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sample types.ResourceSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			if !start.IsZero() && sample.Timestamp.Before(start) {
				continue
			}
			if !end.IsZero() && sample.Timestamp.After(end) {
				continue
			}
			samples = append(samples, &sample)
		}
		return nil
	})
	return samples, err
}

// Recommendation operations

func (s *BoltStore) SaveRecommendation(r *types.Recommendation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := r.DeploymentID + "/" + r.ID
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRecommendations).Put([]byte(key), data)
	})
}

func (s *BoltStore) ListRecommendations(deploymentID string) ([]*types.Recommendation, error) {
	var recs []*types.Recommendation
	prefix := []byte(deploymentID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecommendations).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r types.Recommendation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			recs = append(recs, &r)
		}
		return nil
	})
	return recs, err
}

// Environment configuration operations

func (s *BoltStore) CreateEnvironmentConfig(c *types.EnvironmentConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProjects).Get([]byte(c.ProjectID)) == nil {
			return types.Validationf("config project does not exist: %s", c.ProjectID)
		}
		return putJSON(tx, bucketEnvConfigs, c.ID, c)
	})
}

func (s *BoltStore) GetEnvironmentConfig(id string) (*types.EnvironmentConfig, error) {
	var c types.EnvironmentConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketEnvConfigs, id, &c, "environment config")
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListEnvironmentConfigs(projectID string) ([]*types.EnvironmentConfig, error) {
	var configs []*types.EnvironmentConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvConfigs).ForEach(func(k, v []byte) error {
			var c types.EnvironmentConfig
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.ProjectID == projectID {
				configs = append(configs, &c)
			}
			return nil
		})
	})
	return configs, err
}

func (s *BoltStore) SetEnvironmentVariable(v *types.EnvironmentVariable) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := v.ConfigID + "/" + v.Key
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEnvVariables).Put([]byte(key), data)
	})
}

func (s *BoltStore) ListEnvironmentVariables(configID string) ([]*types.EnvironmentVariable, error) {
	var vars []*types.EnvironmentVariable
	prefix := []byte(configID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEnvVariables).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ev types.EnvironmentVariable
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			vars = append(vars, &ev)
		}
		return nil
	})
	return vars, err
}

func (s *BoltStore) AppendConfigAudit(a *types.ConfigAuditLog) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := timeKey(a.ConfigID, a.CreatedAt, a.ID)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfigAudit).Put(key, data)
	})
}

func (s *BoltStore) ListConfigAudit(configID string, limit, offset int) ([]*types.ConfigAuditLog, error) {
	var logs []*types.ConfigAuditLog
	prefix := []byte(configID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketConfigAudit).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var a types.ConfigAuditLog
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			logs = append(logs, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.After(logs[j].CreatedAt)
	})
	return paginate(logs, limit, offset), nil
}

// Log archive operations

func (s *BoltStore) AppendLogEntries(entries []*types.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogArchive)
		for _, e := range entries {
			key := fmt.Sprintf("%s/%020d", e.DeploymentID, e.Sequence)
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Tx runs fn inside one bolt read-write transaction.
func (s *BoltStore) Tx(fn func(tx TxStore) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTxStore{tx: btx})
	})
}

// boltTxStore exposes typed operations bound to an open transaction.
type boltTxStore struct {
	tx *bolt.Tx
}

func (t *boltTxStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	if err := getDeploymentTx(t.tx, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *boltTxStore) UpdateDeployment(d *types.Deployment) error {
	return putJSON(t.tx, bucketDeployments, d.ID, d)
}

func (t *boltTxStore) AppendScalingEvent(e *types.ScalingEvent) error {
	return appendScalingEventTx(t.tx, e)
}

// Shared helpers

func putJSON(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func getJSON(tx *bolt.Tx, bucket []byte, key string, v interface{}, kind string) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return types.NotFoundf("%s not found: %s", kind, key)
	}
	return json.Unmarshal(data, v)
}

func getDeploymentTx(tx *bolt.Tx, id string, d *types.Deployment) error {
	return getJSON(tx, bucketDeployments, id, d, "deployment")
}

func appendScalingEventTx(tx *bolt.Tx, e *types.ScalingEvent) error {
	key := timeKey(e.DeploymentID, e.CreatedAt, e.ID)
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketScalingEvents).Put(key, data)
}

func timeKey(prefix string, t time.Time, suffix string) []byte {
	key := prefix + "/" + t.UTC().Format(time.RFC3339Nano)
	if suffix != "" {
		key += "/" + suffix
	}
	return []byte(key)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
