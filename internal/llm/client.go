package llm

import "context"

// Client is the narrow capability boundary to the generative backend. The
// crawler treats whatever comes back as untrusted text; everything beyond
// "prompt in, completion out" is the caller's problem.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text string
}
