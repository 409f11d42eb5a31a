package generator

import (
	"context"
	"errors"
)

// Errors reported through Result.Err. ErrGeneration wraps transport and
// provider failures; ErrMalformedOutput means the answer was not a single
// JSON object.
var (
	ErrMissingCredential = errors.New("generator credential missing")
	ErrGeneration        = errors.New("generation failed")
	ErrMalformedOutput   = errors.New("generator output is not a logic tree")
	ErrEmptyPrompt       = errors.New("prompt is empty")
	ErrEmptyOutput       = errors.New("generator returned no content")
)

// Request is one call to a text generation backend.
type Request struct {
	Instruction string
	Prompt      string
	Model       string
	Temperature float32
}

// Backend turns an instruction plus a prompt into raw model text. It must
// honour ctx cancellation.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// FuncBackend adapts a plain function to Backend.
type FuncBackend func(ctx context.Context, req Request) (string, error)

func (f FuncBackend) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
