/*
Package scaffold turns a declarative manifest.yaml into a runnable Node
project.

Users who upload a manifest instead of application code get a generated
Express app: package.json, index.js with CRUD routes per declared
entity, database.js with SQLite table setup, and a README. Any file the
user uploads alongside the manifest overrides the generated one with
the same path.
*/
package scaffold
