package gateway

import (
	"context"
	"fmt"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/monitor"
	"caremesh/modelguard/pkg/registry"
)

// ReloadProviders refreshes the configuration cache, rebuilds the
// provider registry, and runs an immediate health round so the new
// adapters do not sit unavailable until the next scheduled check.
func (g *Gateway) ReloadProviders(ctx context.Context) error {
	if err := g.registry.Reload(ctx); err != nil {
		return fmt.Errorf("reload providers: %w", err)
	}
	g.health.RunRound(ctx)

	g.recorder.RecordAudit(ctx, "PROVIDERS_RELOADED", "registry", "system", nil)
	g.logger.Info("provider registry reloaded")
	return nil
}

// ProviderStatuses returns the current health status of every provider.
func (g *Gateway) ProviderStatuses() []registry.Status {
	return g.registry.AllStatuses()
}

// CheckProvider runs an on-demand health check for one provider and
// returns the refreshed status.
func (g *Gateway) CheckProvider(ctx context.Context, name string) (registry.Status, bool) {
	return g.health.CheckNow(ctx, name)
}

// Aggregates returns the running per-model statistics.
func (g *Gateway) Aggregates() []monitor.Aggregate {
	return g.monitor.AllAggregates()
}

// CheckAlerts evaluates the aggregate threshold rules.
func (g *Gateway) CheckAlerts() []monitor.Alert {
	return g.monitor.CheckAlerts()
}

// CheckAgentThresholds evaluates the usage budgets for one agent type.
func (g *Gateway) CheckAgentThresholds(ctx context.Context, agentType, userID string) ([]monitor.Alert, error) {
	return g.monitor.CheckAgentThresholds(ctx, agentType, userID)
}

// CallLogs returns call logs matching the query.
func (g *Gateway) CallLogs(ctx context.Context, q auditlog.Query) ([]*auditlog.CallLog, error) {
	return g.logStore.QueryCallLogs(ctx, q)
}

// RetryLogs returns retry logs matching the query.
func (g *Gateway) RetryLogs(ctx context.Context, q auditlog.Query) ([]*auditlog.RetryLog, error) {
	return g.logStore.QueryRetryLogs(ctx, q)
}

// DegradationLogs returns fallback events matching the query.
func (g *Gateway) DegradationLogs(ctx context.Context, q auditlog.Query) ([]*auditlog.DegradationLog, error) {
	return g.logStore.QueryDegradationLogs(ctx, q)
}

// AuditEvents returns audit trail entries matching the query.
func (g *Gateway) AuditEvents(ctx context.Context, q auditlog.Query) ([]*auditlog.AuditEvent, error) {
	return g.logStore.QueryAuditEvents(ctx, q)
}
