package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/archiq/assistant/observe"
	"github.com/archiq/assistant/types"
)

type fakeProvider struct {
	resp types.Response
	err  error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Capabilities() Capabilities {
	return Capabilities{Tools: true, StructuredOutput: true}
}

func (f *fakeProvider) Generate(context.Context, types.Request) (types.Response, error) {
	return f.resp, f.err
}

func TestObservedEmitsProviderEvents(t *testing.T) {
	var events []observe.Event
	sink := observe.SinkFunc(func(_ context.Context, ev observe.Event) error {
		events = append(events, ev)
		return nil
	})

	inner := &fakeProvider{resp: types.Response{
		Message: types.Message{Role: types.RoleAssistant, Content: "ok"},
		Usage:   &types.Usage{InputTokens: 10, OutputTokens: 3, TotalTokens: 13},
	}}
	provider := Observed(inner, sink)

	if provider.Name() != "fake" || !provider.Capabilities().Tools {
		t.Fatal("wrapper must pass identity and capabilities through")
	}

	resp, err := provider.Generate(context.Background(), types.Request{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Fatalf("unexpected content: %q", resp.Message.Content)
	}

	if len(events) != 2 {
		t.Fatalf("expected started+completed events, got %d", len(events))
	}
	if events[0].Kind != observe.KindProvider || events[0].Status != observe.StatusStarted {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	done := events[1]
	if done.Status != observe.StatusCompleted || done.Name != "fake" {
		t.Fatalf("unexpected completion event: %+v", done)
	}
	if done.Attributes["inputTokens"] != 10 {
		t.Fatalf("usage not recorded: %+v", done.Attributes)
	}
}

func TestObservedRecordsFailure(t *testing.T) {
	var events []observe.Event
	sink := observe.SinkFunc(func(_ context.Context, ev observe.Event) error {
		events = append(events, ev)
		return nil
	})

	provider := Observed(&fakeProvider{err: fmt.Errorf("upstream 500")}, sink)
	if _, err := provider.Generate(context.Background(), types.Request{}); err == nil {
		t.Fatal("expected the provider error to surface")
	}
	if len(events) != 2 || events[1].Status != observe.StatusFailed || events[1].Error == "" {
		t.Fatalf("failure not recorded: %+v", events)
	}
}

func TestObservedNilSinkReturnsProvider(t *testing.T) {
	inner := &fakeProvider{}
	if got := Observed(inner, nil); got != Provider(inner) {
		t.Fatal("nil sink must return the provider unwrapped")
	}
}
