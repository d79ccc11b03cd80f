package llm

import (
	"context"
	"time"

	"github.com/archiq/assistant/observe"
	"github.com/archiq/assistant/types"
)

type observedProvider struct {
	inner Provider
	sink  observe.Sink
}

// Observed wraps a provider so every completion emits provider events to
// the sink. A nil sink returns the provider unwrapped.
func Observed(p Provider, sink observe.Sink) Provider {
	if p == nil || sink == nil {
		return p
	}
	return &observedProvider{inner: p, sink: sink}
}

func (o *observedProvider) Name() string { return o.inner.Name() }

func (o *observedProvider) Capabilities() Capabilities { return o.inner.Capabilities() }

func (o *observedProvider) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	_ = o.sink.Emit(ctx, observe.Event{
		Kind: observe.KindProvider, Status: observe.StatusStarted,
		Name: o.inner.Name(),
	})

	started := time.Now()
	resp, err := o.inner.Generate(ctx, req)

	ev := observe.Event{
		Kind: observe.KindProvider, Status: observe.StatusCompleted,
		Name:       o.inner.Name(),
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		ev.Status = observe.StatusFailed
		ev.Error = err.Error()
	} else if resp.Usage != nil {
		ev.Attributes = map[string]any{
			"inputTokens":  resp.Usage.InputTokens,
			"outputTokens": resp.Usage.OutputTokens,
		}
	}
	_ = o.sink.Emit(ctx, ev)
	return resp, err
}
