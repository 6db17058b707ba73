package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"caremesh/modelguard/pkg/auditlog"
	"caremesh/modelguard/pkg/cli"
	"caremesh/modelguard/pkg/config"
	"caremesh/modelguard/pkg/storage"
)

var logsFlags struct {
	model    string
	provider string
	scenario string
	action   string
	since    string
	limit    int
	offset   int
	output   string
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query operational logs",
	Long: `Query the persisted call, retry, degradation, and audit logs.

Results are printed newest first, paginated with --limit and --offset.
The default output is JSON; --output text or --output csv render a
table instead.

Examples:
  # Recent calls for one model
  modelguard logs calls --model gpt-4o --limit 50

  # Retries against a provider since a point in time
  modelguard logs retries --provider anthropic --since 2026-08-01T00:00:00Z

  # Fallback events as a table
  modelguard logs degradations --output text

  # Audit trail for credential rotations
  modelguard logs audit --action API_KEY_ROTATED`,
}

var logsCallsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Query call logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryLogs(func(ctx context.Context, store storage.Store, q auditlog.Query) (any, *cli.Table, error) {
			logs, err := store.QueryCallLogs(ctx, q)
			return logs, callLogTable(logs), err
		})
	},
}

var logsRetriesCmd = &cobra.Command{
	Use:   "retries",
	Short: "Query retry logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryLogs(func(ctx context.Context, store storage.Store, q auditlog.Query) (any, *cli.Table, error) {
			logs, err := store.QueryRetryLogs(ctx, q)
			return logs, retryLogTable(logs), err
		})
	},
}

var logsDegradationsCmd = &cobra.Command{
	Use:   "degradations",
	Short: "Query degradation logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryLogs(func(ctx context.Context, store storage.Store, q auditlog.Query) (any, *cli.Table, error) {
			logs, err := store.QueryDegradationLogs(ctx, q)
			return logs, degradationLogTable(logs), err
		})
	},
}

var logsAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryLogs(func(ctx context.Context, store storage.Store, q auditlog.Query) (any, *cli.Table, error) {
			events, err := store.QueryAuditEvents(ctx, q)
			return events, auditEventTable(events), err
		})
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsCallsCmd, logsRetriesCmd, logsDegradationsCmd, logsAuditCmd)

	logsCmd.PersistentFlags().StringVar(&logsFlags.model, "model", "", "filter by model name")
	logsCmd.PersistentFlags().StringVar(&logsFlags.provider, "provider", "", "filter by provider name")
	logsCmd.PersistentFlags().StringVar(&logsFlags.scenario, "scenario", "", "filter by clinical scenario")
	logsCmd.PersistentFlags().StringVar(&logsFlags.action, "action", "", "filter audit events by action")
	logsCmd.PersistentFlags().StringVar(&logsFlags.since, "since", "", "only records at or after this RFC 3339 time")
	logsCmd.PersistentFlags().IntVar(&logsFlags.limit, "limit", auditlog.DefaultPageSize, "page size")
	logsCmd.PersistentFlags().IntVar(&logsFlags.offset, "offset", 0, "page offset")
	logsCmd.PersistentFlags().StringVarP(&logsFlags.output, "output", "o", "json", "output format (json, text, csv)")
}

func queryLogs(fetch func(context.Context, storage.Store, auditlog.Query) (any, *cli.Table, error)) error {
	format, err := cli.ParseFormat(logsFlags.output)
	if err != nil {
		return err
	}

	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.Open(ctx, storage.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	q := auditlog.Query{
		Model:    logsFlags.model,
		Provider: logsFlags.provider,
		Scenario: logsFlags.scenario,
		Action:   logsFlags.action,
		Limit:    logsFlags.limit,
		Offset:   logsFlags.offset,
	}
	if logsFlags.since != "" {
		since, err := time.Parse(time.RFC3339, logsFlags.since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", logsFlags.since, err)
		}
		q.Start = &since
	}

	records, table, err := fetch(ctx, store, q)
	if err != nil {
		return err
	}

	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(os.Stdout, records)
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, table)
}

func callLogTable(logs []*auditlog.CallLog) *cli.Table {
	t := &cli.Table{Headers: []string{
		"TIME", "MODEL", "PROVIDER", "SCENARIO", "SUCCESS", "LATENCY_MS", "TOKENS", "ERROR",
	}}
	for _, rec := range logs {
		t.Rows = append(t.Rows, []string{
			rec.Timestamp.Format(time.RFC3339),
			rec.Model,
			rec.Provider,
			rec.Scenario,
			strconv.FormatBool(rec.Success),
			strconv.FormatFloat(rec.LatencyMs, 'f', 0, 64),
			strconv.FormatInt(rec.InputTokens+rec.OutputTokens, 10),
			rec.ErrorCode,
		})
	}
	return t
}

func retryLogTable(logs []*auditlog.RetryLog) *cli.Table {
	t := &cli.Table{Headers: []string{
		"TIME", "MODEL", "PROVIDER", "ATTEMPT", "ERROR",
	}}
	for _, rec := range logs {
		t.Rows = append(t.Rows, []string{
			rec.Timestamp.Format(time.RFC3339),
			rec.Model,
			rec.Provider,
			fmt.Sprintf("%d/%d", rec.Attempt, rec.MaxAttempts),
			rec.ErrorCode,
		})
	}
	return t
}

func degradationLogTable(logs []*auditlog.DegradationLog) *cli.Table {
	t := &cli.Table{Headers: []string{
		"TIME", "REQUESTED", "ACTUAL", "REASON",
	}}
	for _, rec := range logs {
		t.Rows = append(t.Rows, []string{
			rec.Timestamp.Format(time.RFC3339),
			rec.RequestedProvider + "/" + rec.RequestedModel,
			rec.ActualProvider + "/" + rec.ActualModel,
			rec.Reason,
		})
	}
	return t
}

func auditEventTable(events []*auditlog.AuditEvent) *cli.Table {
	t := &cli.Table{Headers: []string{
		"TIME", "ACTION", "RESOURCE", "ACTOR",
	}}
	for _, rec := range events {
		t.Rows = append(t.Rows, []string{
			rec.Timestamp.Format(time.RFC3339),
			rec.Action,
			rec.Resource,
			rec.Actor,
		})
	}
	return t
}
