// Package llm defines the boundary to the external completion layer. A
// provider turns a prompt plus message history into either a free-text
// assistant message or a typed tool invocation; everything behind that
// boundary (model choice, transport, retries inside the vendor SDK) is
// opaque to the rest of the system.
package llm

import (
	"context"
	"errors"

	"github.com/archiq/assistant/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

type Capabilities struct {
	Tools            bool
	StructuredOutput bool
}

type Provider interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}
