/*
Package storage provides persistent state storage for the control plane.

The Store interface exposes typed CRUD for every entity the platform
persists (users, projects, deployments, scaling policies and events,
resource usage, recommendations, environment configuration, archived
logs) plus a single transactional closure, Tx, for mutations that must
commit together, primarily deployment status transitions paired with
their audit events.

# Implementation

BoltStore backs the interface with an embedded BoltDB file: one bucket
per table, JSON-encoded values, upsert-style updates. Append-only tables
(scaling_events, resource_usage, config_audit_logs, log_archive) use
deployment-prefixed, timestamp-ordered keys so range reads are prefix
scans.

Referential integrity is enforced at write time: a project requires its
owning user, a deployment its project. Deletes cascade downward
(user → projects → deployments → policies), matching what a relational
datastore would do with ON DELETE CASCADE.

# Key Layout

	users                        <user_id>
	projects                     <project_id>
	deployments                  <deployment_id>
	scaling_policies             <policy_id>
	scaling_events               <deployment_id>/<rfc3339nano>/<event_id>
	resource_usage               <deployment_id>/<rfc3339nano>
	optimization_recommendations <deployment_id>/<rec_id>
	environment_configs          <config_id>
	environment_variables        <config_id>/<key>
	config_audit_logs            <config_id>/<rfc3339nano>/<audit_id>
	log_archive                  <deployment_id>/<sequence>
*/
package storage
