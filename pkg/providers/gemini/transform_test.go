package gemini

import (
	"testing"

	"caremesh/modelguard/pkg/providers"
)

func TestBuildRequest_OmitsEmptyGenerationConfig(t *testing.T) {
	wire := buildRequest(&providers.Request{Model: "gemini-2.5-pro", Prompt: "hi"})

	if wire.GenerationConfig != nil {
		t.Errorf("Expected no generation config for a bare request, got %+v", wire.GenerationConfig)
	}
	if wire.SystemInstruction != nil {
		t.Error("Expected no system instruction")
	}
	if len(wire.Contents) != 1 || wire.Contents[0].Role != "user" {
		t.Errorf("Unexpected contents: %+v", wire.Contents)
	}
}

func TestBuildRequest_CarriesSamplingAndSystem(t *testing.T) {
	wire := buildRequest(&providers.Request{
		Model:       "gemini-2.5-pro",
		Prompt:      "hi",
		System:      "Be terse.",
		Temperature: 0.7,
		MaxTokens:   512,
		Stop:        []string{"END"},
	})

	if wire.SystemInstruction == nil || wire.SystemInstruction.Parts[0].Text != "Be terse." {
		t.Errorf("System instruction not carried: %+v", wire.SystemInstruction)
	}
	cfg := wire.GenerationConfig
	if cfg == nil {
		t.Fatal("Expected generation config")
	}
	if cfg.Temperature != 0.7 || cfg.MaxOutputTokens != 512 {
		t.Errorf("Sampling parameters not carried: %+v", cfg)
	}
	if len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "END" {
		t.Errorf("Stop sequences not carried: %v", cfg.StopSequences)
	}
}

func TestNormalizeFinishReason(t *testing.T) {
	cases := map[string]string{
		"STOP":       "stop",
		"MAX_TOKENS": "length",
		"SAFETY":     "SAFETY",
	}
	for in, want := range cases {
		if got := normalizeFinishReason(in); got != want {
			t.Errorf("normalizeFinishReason(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestCandidate_TextConcatenatesParts(t *testing.T) {
	c := &candidate{}
	c.Content.Parts = []part{{Text: "Hello, "}, {Text: "world."}}
	if got := c.text(); got != "Hello, world." {
		t.Errorf("Expected concatenated parts, got %q", got)
	}
}
