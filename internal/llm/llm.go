// Package llm provides access to the local text-completion service.
//
// The runtime itself is a black box: the rest of the application depends only
// on the Completer interface and the bundled client speaks the Ollama
// generate API over HTTP.
package llm

import "context"

// Completer produces a text completion for a prompt. Implementations must be
// safe for sequential reuse; they are not required to be concurrency-safe.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
