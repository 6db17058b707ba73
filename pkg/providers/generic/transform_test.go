package generic

import (
	"testing"

	"caremesh/modelguard/pkg/providers"
)

func TestBuildRequest_SystemPromptFirst(t *testing.T) {
	wire := buildRequest(&providers.Request{
		Model:       "local-model",
		Prompt:      "Summarize the visit.",
		System:      "You are a clinical scribe.",
		Temperature: 0.4,
		MaxTokens:   2048,
		Stop:        []string{"END"},
	}, false)

	if len(wire.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(wire.Messages))
	}
	if wire.Messages[0].Role != "system" || wire.Messages[0].Content != "You are a clinical scribe." {
		t.Errorf("Unexpected system message: %+v", wire.Messages[0])
	}
	if wire.Messages[1].Role != "user" {
		t.Errorf("Expected user message second, got %s", wire.Messages[1].Role)
	}
	if wire.Temperature != 0.4 || wire.MaxTokens != 2048 {
		t.Errorf("Sampling parameters not carried: %+v", wire)
	}
	if len(wire.Stop) != 1 || wire.Stop[0] != "END" {
		t.Errorf("Stop sequences not carried: %v", wire.Stop)
	}
	if wire.Stream {
		t.Error("Non-streaming request must not set stream")
	}
}

func TestBuildRequest_NoSystemPrompt(t *testing.T) {
	wire := buildRequest(&providers.Request{Model: "local-model", Prompt: "hi"}, true)

	if len(wire.Messages) != 1 || wire.Messages[0].Role != "user" {
		t.Errorf("Expected a single user message, got %+v", wire.Messages)
	}
	if !wire.Stream {
		t.Error("Streaming request must set stream")
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(providers.Config{Name: "selfhosted"})
	if providers.KindOf(err) != providers.ErrInvalidRequest {
		t.Fatalf("Expected INVALID_REQUEST without endpoint, got %v", err)
	}
}
