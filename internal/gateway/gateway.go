package gateway

import (
	"context"
	"errors"
	"time"

	"chathub/internal/models"
)

// Failure kinds. The session retry loop treats both the same way (mark the
// key failed, try the next one); they are distinguished only for logs.
var (
	// ErrMalformed means the provider answered but the payload carried no
	// usable completion.
	ErrMalformed = errors.New("malformed completion response")
	// ErrTransport covers network failures, timeouts and provider errors.
	ErrTransport = errors.New("completion transport failure")
)

// Options are the per-call completion parameters.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Completer is the remote completion contract consumed by sessions. The
// credential is passed per call so the caller can drive key rotation.
type Completer interface {
	Complete(ctx context.Context, key string, messages []models.Message, opts Options) (models.Message, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, key string, messages []models.Message, opts Options) (models.Message, error)

func (f CompleterFunc) Complete(ctx context.Context, key string, messages []models.Message, opts Options) (models.Message, error) {
	return f(ctx, key, messages, opts)
}
