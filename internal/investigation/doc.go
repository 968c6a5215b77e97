// Package investigation orchestrates the alert investigation pipeline:
// idempotency check, evidence collection, policy evaluation, action
// dispatch, and completion. The Orchestrator drives a single alert
// through those stages; the Service layers intake, proof handling, and
// operator queries on top of it.
package investigation
