package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/simaogato/obligations-backend/internal/usecase/alert"
)

// SweepOptions holds flags shared by the alert commands.
type SweepOptions struct {
	*RootOptions
	Workspaces []string
	At         string // RFC 3339, defaults to now
}

type sweepOutput struct {
	WorkspaceID string `json:"workspace_id"`
	Proposed    int    `json:"proposed"`
	Inserted    int    `json:"inserted"`
	Refreshed   int    `json:"refreshed"`
	Touched     int    `json:"touched"`
	Reopened    int    `json:"reopened"`
	Resolved    int    `json:"resolved"`
	Failures    int    `json:"failures"`
	Error       string `json:"error,omitempty"`
}

// NewSweepAlertsCommand creates the sweep-alerts command.
func NewSweepAlertsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep-alerts",
		Short: "Evaluate alert rules for every workspace",
		Long: `Evaluate the alert rules and upsert their proposals, then resolve
stale auto-resolvable alerts. A failing workspace is reported and does
not stop the others.

Examples:
  obligationsctl sweep-alerts
  obligationsctl sweep-alerts --workspace 7d9f... --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweepAlerts(cmd, opts)
		},
	}
	addSweepFlags(cmd, opts)
	return cmd
}

// NewResolveStaleCommand creates the resolve-stale command.
func NewResolveStaleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve-stale",
		Short: "Resolve open alerts that are no longer proposed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolveStale(cmd, opts)
		},
	}
	addSweepFlags(cmd, opts)
	return cmd
}

func addSweepFlags(cmd *cobra.Command, opts *SweepOptions) {
	cmd.Flags().StringSliceVar(&opts.Workspaces, "workspace", nil, "workspace ids (default: every workspace)")
	cmd.Flags().StringVar(&opts.At, "at", "", "evaluation time as RFC 3339 (default: now)")
}

func (o *SweepOptions) parse() ([]uuid.UUID, time.Time, error) {
	ids := make([]uuid.UUID, 0, len(o.Workspaces))
	for _, raw := range o.Workspaces {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("invalid workspace %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	now := time.Now().UTC()
	if o.At != "" {
		at, err := time.Parse(time.RFC3339, o.At)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("invalid --at: %w", err)
		}
		now = at.UTC()
	}
	return ids, now, nil
}

func runSweepAlerts(cmd *cobra.Command, opts *SweepOptions) error {
	ctx := context.Background()
	ids, now, err := opts.parse()
	if err != nil {
		return err
	}

	svc, release, err := opts.Open(ctx, opts.Config)
	if err != nil {
		return fmt.Errorf("failed to open services: %w", err)
	}
	defer release()

	result, err := svc.Alerts.SweepAll(ctx, ids, now)
	if err != nil {
		return err
	}

	out := make([]sweepOutput, 0, len(result.Results)+len(result.Failures))
	for _, r := range result.Results {
		out = append(out, toSweepOutput(r))
	}
	for _, f := range result.Failures {
		out = append(out, sweepOutput{WorkspaceID: f.WorkspaceID.String(), Error: f.Err.Error()})
	}

	if opts.Format == "json" {
		if err := outputJSON(cmd, out); err != nil {
			return err
		}
	} else {
		for _, o := range out {
			if o.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  FAILED  %s\n", o.WorkspaceID, o.Error)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  proposed=%d inserted=%d refreshed=%d touched=%d reopened=%d resolved=%d failures=%d\n",
				o.WorkspaceID, o.Proposed, o.Inserted, o.Refreshed, o.Touched, o.Reopened, o.Resolved, o.Failures)
		}
	}

	if len(result.Failures) > 0 {
		return fmt.Errorf("%d workspace(s) failed", len(result.Failures))
	}
	return nil
}

func runResolveStale(cmd *cobra.Command, opts *SweepOptions) error {
	ctx := context.Background()
	ids, now, err := opts.parse()
	if err != nil {
		return err
	}

	svc, release, err := opts.Open(ctx, opts.Config)
	if err != nil {
		return fmt.Errorf("failed to open services: %w", err)
	}
	defer release()

	if len(ids) == 0 {
		ids, err = svc.Obligations.ObligationRepo.ListWorkspaceIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list workspaces: %w", err)
		}
	}

	out := make([]sweepOutput, 0, len(ids))
	failed := 0
	for _, id := range ids {
		resolved, err := svc.Alerts.ResolveStale(ctx, id, now)
		o := sweepOutput{WorkspaceID: id.String(), Resolved: resolved}
		if err != nil {
			o.Error = err.Error()
			failed++
		}
		out = append(out, o)
	}

	if opts.Format == "json" {
		if err := outputJSON(cmd, out); err != nil {
			return err
		}
	} else {
		for _, o := range out {
			if o.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  FAILED  %s\n", o.WorkspaceID, o.Error)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  resolved=%d\n", o.WorkspaceID, o.Resolved)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d workspace(s) failed", failed)
	}
	return nil
}

func toSweepOutput(r *alert.SweepResult) sweepOutput {
	return sweepOutput{
		WorkspaceID: r.WorkspaceID.String(),
		Proposed:    r.Proposed,
		Inserted:    r.Inserted,
		Refreshed:   r.Refreshed,
		Touched:     r.Touched,
		Reopened:    r.Reopened,
		Resolved:    r.Resolved,
		Failures:    len(r.Failures),
	}
}
