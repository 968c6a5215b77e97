// Package reasoning layers LLM judgment onto the pipeline: rule
// confidence scoring, fallback decision proposals, rationale
// enrichment, and proof evaluation. Every call degrades cleanly; the
// callers own the fallbacks when the model is disabled or unusable.
package reasoning
