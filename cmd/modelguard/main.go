// ModelGuard is the AI provider resilience and monitoring layer for the
// CareMesh telemedicine platform.
//
// It sits between clinical agents and the upstream LLM providers,
// providing:
//   - Unified multi-provider completion and streaming calls
//   - Classified errors, bounded retries, and fallback degradation
//   - Periodic provider health checks and on-demand probes
//   - Per-model performance aggregates and usage budget alerts
//   - Encrypted credential storage with rotation and audit trails
//
// Usage:
//
//	# Start the service with the default configuration
//	modelguard run
//
//	# Start with a configuration file
//	modelguard run --config /etc/modelguard/config.yaml
//
//	# Rotate a model credential
//	modelguard keys rotate --model-id mc-42 --actor ops@caremesh
//
//	# Query recent call logs
//	modelguard logs calls --model gpt-4o --limit 50
package main

func main() {
	Execute()
}
