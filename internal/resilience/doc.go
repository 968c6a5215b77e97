// Package resilience wraps calls to external collaborators with per-component
// circuit breakers, bounded retry with exponential backoff, malfunction
// classification, and a bounded dead-letter queue. Breaker state is
// process-local and never persisted.
package resilience
