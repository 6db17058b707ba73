package anthropic

import (
	"caremesh/modelguard/pkg/providers"
)

// Messages API wire types. Only the fields this adapter uses are modeled.

type messagesRequest struct {
	Model         string    `json:"model"`
	Messages      []message `json:"messages"`
	System        string    `json:"system,omitempty"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   float64   `json:"temperature,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      wireUsage      `json:"usage"`
}

// text concatenates the text content blocks.
func (r *messagesResponse) text() string {
	var out string
	for _, block := range r.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// Streaming event types.

type streamEvent struct {
	Type    string          `json:"type"`
	Message *streamMessage  `json:"message,omitempty"`
	Delta   *streamDelta    `json:"delta,omitempty"`
	Usage   *wireUsage      `json:"usage,omitempty"`
	Error   *streamErrorMsg `json:"error,omitempty"`
}

type streamMessage struct {
	Usage wireUsage `json:"usage"`
}

type streamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type streamErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// buildRequest maps a normalized request to the Messages API format.
func buildRequest(req *providers.Request) *messagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &messagesRequest{
		Model:         req.Model,
		System:        req.System,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
		Messages:      []message{{Role: "user", Content: req.Prompt}},
	}
}

// normalizeStopReason maps Anthropic stop reasons to the normalized set.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
