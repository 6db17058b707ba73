// Package providers defines the uniform adapter contract for LLM backends
// and the error taxonomy shared by every component that talks to them.
//
// Each supported backend (OpenAI, Anthropic, Gemini, DeepSeek, Qwen) is
// wrapped by an adapter implementing the Provider interface. Adapters
// normalize requests and responses so callers never see provider-specific
// wire formats, and Classify normalizes transport failures into a closed
// set of error kinds so callers never see provider-specific error shapes.
package providers
