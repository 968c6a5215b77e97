// Package evidence builds the per-scenario findings and customer context
// consumed by policy evaluation. The Collector resolves the alert's subject
// references, queries the transaction ledger, and augments select scenarios
// with sanctions screening and adverse-media lookups.
package evidence
