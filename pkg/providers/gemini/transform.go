package gemini

import "caremesh/modelguard/pkg/providers"

// generateContent wire types. Only the fields this adapter uses are modeled.

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// text concatenates the text parts of the candidate content.
func (c *candidate) text() string {
	var out string
	for _, p := range c.Content.Parts {
		out += p.Text
	}
	return out
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type generateResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
}

// buildRequest maps a normalized request to the generateContent format.
func buildRequest(req *providers.Request) *generateRequest {
	wire := &generateRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: req.Prompt}}},
		},
	}

	if req.System != "" {
		wire.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}

	if req.Temperature != 0 || req.MaxTokens != 0 || len(req.Stop) > 0 {
		wire.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}

	return wire
}

// normalizeFinishReason maps Gemini finish reasons to the normalized set.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return reason
	}
}
