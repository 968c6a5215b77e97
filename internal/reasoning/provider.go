package reasoning

import "context"

// Provider is the interface for any LLM backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Reply, error)
}

// Request is a single-shot completion request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Reply is the model's answer with token accounting.
type Reply struct {
	Text  string
	Usage Usage
}

// Usage records token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
