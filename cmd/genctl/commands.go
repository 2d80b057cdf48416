package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"genflow/internal/bootstrap"
	"genflow/internal/domain"
	"genflow/internal/reconciler"
	"genflow/internal/sqlinline"
)

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				if s.backend.Runner == nil {
					return errNeedsPostgres
				}
				if _, err := s.backend.Runner.Exec(ctx, sqlinline.QSchema); err != nil {
					return fmt.Errorf("apply schema: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newProviderKeyCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider-key",
		Short: "Manage provider API keys kept in the database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> <api-key|->",
		Short: "Store or rotate a provider API key (\"-\" reads it from stdin)",
		Long: `Store or rotate a provider API key in integration_tokens.

Keys in the environment take precedence; a stored key is used only when the
matching *_API_KEY variable is empty. Running processes pick up a new key on
restart.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, ok := knownProvider(args[0])
			if !ok {
				return fmt.Errorf("unknown provider %q (known: %s)", args[0], knownProviderList())
			}
			key, err := readSecret(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				if s.backend.Credentials == nil {
					return errNeedsPostgres
				}
				if err := s.backend.Credentials.SetToken(ctx, string(provider), key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored api key for %s\n", provider)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers that have a key in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				if s.backend.Credentials == nil {
					return errNeedsPostgres
				}
				stored, err := s.backend.Credentials.Providers(ctx)
				if err != nil {
					return err
				}
				for _, p := range stored {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	})
	return cmd
}

func newCreditsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect credit balances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "balance <user-id>",
		Short: "Print a user's remaining credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				remaining, err := s.core.Reconciler.Credits(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), remaining)
				return nil
			})
		},
	})
	return cmd
}

type taskView struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Provider       string          `json:"provider"`
	ExternalTaskID string          `json:"external_task_id"`
	MediaType      string          `json:"media_type"`
	Model          string          `json:"model"`
	Status         string          `json:"status"`
	Params         json.RawMessage `json:"params,omitempty"`
	TaskInfo       json.RawMessage `json:"task_info,omitempty"`
	TaskResult     json.RawMessage `json:"task_result,omitempty"`
	CreditID       string          `json:"credit_id"`
	Credits        int64           `json:"credits"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Ledger         []ledgerView    `json:"ledger"`
}

type ledgerView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

func newTaskCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and reconcile generation tasks",
	}
	show := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Print the stored task and its ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				task, err := s.core.Reconciler.Task(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(ctx, cmd, s, task)
			})
		},
	}
	refresh := &cobra.Command{
		Use:   "refresh <task-id>",
		Short: "Query the provider and merge the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				task, err := s.core.Reconciler.Query(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(ctx, cmd, s, task)
			})
		},
	}
	expire := &cobra.Command{
		Use:   "expire <task-id>",
		Short: "Fail an active task and refund its credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				task, err := s.core.Reconciler.Expire(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(ctx, cmd, s, task)
			})
		},
	}
	cmd.AddCommand(show, refresh, expire)
	return cmd
}

func printTask(ctx context.Context, cmd *cobra.Command, s *session, task *domain.Task) error {
	entries, err := s.core.Ledger.Entries(ctx, task.ID)
	if err != nil {
		return err
	}
	view := taskView{
		ID:             task.ID,
		UserID:         task.UserID,
		Provider:       string(task.Provider),
		ExternalTaskID: task.ExternalTaskID,
		MediaType:      string(task.MediaType),
		Model:          task.Model,
		Status:         string(task.Status),
		Params:         task.Params,
		TaskInfo:       task.TaskInfo,
		TaskResult:     task.TaskResult,
		CreditID:       task.CreditID,
		Credits:        task.CreditAmount,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
		Ledger:         make([]ledgerView, 0, len(entries)),
	}
	for _, e := range entries {
		view.Ledger = append(view.Ledger, ledgerView{ID: e.ID, Kind: string(e.Kind), Amount: e.Amount, CreatedAt: e.CreatedAt})
	}
	return printJSON(cmd.OutOrStdout(), view)
}

func sweepDefaults(s *session) reconciler.SweepOptions {
	if s.cfg == nil {
		return reconciler.SweepOptions{Limit: 100, Concurrency: 4, MaxAge: 24 * time.Hour}
	}
	return bootstrap.SweepOptions(s.cfg)
}

func newSweepCmd(open opener) *cobra.Command {
	var (
		limit       int
		concurrency int
		maxAge      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile active tasks once",
		Long: `Reconcile active tasks once, oldest first.

Flags default to the SWEEP_* and TASK_MAX_AGE_MINUTES settings. Tasks still
active after --max-age are failed and refunded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, open, func(ctx context.Context, s *session) error {
				opts := sweepDefaults(s)
				if cmd.Flags().Changed("limit") {
					opts.Limit = limit
				}
				if cmd.Flags().Changed("concurrency") {
					opts.Concurrency = concurrency
				}
				if cmd.Flags().Changed("max-age") {
					opts.MaxAge = maxAge
				}
				report, err := s.core.Reconciler.Sweep(ctx, opts)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VISITED\tUPDATED\tSETTLED\tEXPIRED\tFAILED")
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", report.Visited, report.Updated, report.Settled, report.Expired, report.Failed)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of tasks to visit")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel provider queries")
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Expire tasks older than this (0 disables)")
	return cmd
}

func knownProvider(name string) (domain.ProviderName, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range domain.KnownProviders {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

func knownProviderList() string {
	names := make([]string, len(domain.KnownProviders))
	for i, p := range domain.KnownProviders {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
