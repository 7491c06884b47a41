package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/simaogato/obligations-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/obligations-backend/internal/domain"
	"github.com/simaogato/obligations-backend/internal/usecase/duplicate"
)

// DuplicateOptions holds flags for the detect-duplicates command.
type DuplicateOptions struct {
	*RootOptions
	Workspace string
	Account   string
	File      string // "-" reads stdin
}

// candidateInput is one line of an import file
type candidateInput struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Type        string          `json:"type"`
}

type flagOutput struct {
	Index                int     `json:"index"`
	Duplicate            bool    `json:"duplicate"`
	Confidence           float64 `json:"confidence"`
	Similarity           float64 `json:"similarity"`
	MatchedTransactionID string  `json:"matched_transaction_id,omitempty"`
	MatchedCandidate     *int    `json:"matched_candidate,omitempty"`
}

// NewDetectDuplicatesCommand creates the detect-duplicates command.
func NewDetectDuplicatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DuplicateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "detect-duplicates",
		Short: "Flag import candidates that repeat posted transactions",
		Long: `Read a JSON array of import candidates and report, for each one,
whether it duplicates a posted transaction of the account or an
earlier candidate of the same file. Nothing is posted.

Candidate fields: date (YYYY-MM-DD), description, amount (signed
string), currency, type.

Examples:
  obligationsctl detect-duplicates --workspace 7d9f... --account 1c2e... --file march.json
  cat march.json | obligationsctl detect-duplicates --workspace 7d9f... --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetectDuplicates(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace id (required)")
	_ = cmd.MarkFlagRequired("workspace")
	cmd.Flags().StringVar(&opts.Account, "account", "", "account id the candidates belong to")
	cmd.Flags().StringVar(&opts.File, "file", "-", "candidate file, - for stdin")

	return cmd
}

func runDetectDuplicates(cmd *cobra.Command, opts *DuplicateOptions) error {
	ctx := context.Background()

	workspaceID, err := uuid.Parse(opts.Workspace)
	if err != nil {
		return fmt.Errorf("invalid workspace %q: %w", opts.Workspace, err)
	}
	var accountID *uuid.UUID
	if opts.Account != "" {
		id, err := uuid.Parse(opts.Account)
		if err != nil {
			return fmt.Errorf("invalid account %q: %w", opts.Account, err)
		}
		accountID = &id
	}

	candidates, err := readCandidates(cmd, opts.File)
	if err != nil {
		return err
	}

	svc, release, err := opts.Open(ctx, opts.Config)
	if err != nil {
		return fmt.Errorf("failed to open services: %w", err)
	}
	defer release()

	flags, err := svc.Detector.Detect(domain.WithWorkspace(ctx, workspaceID), workspaceID, accountID, candidates)
	if err != nil {
		return err
	}

	out := make([]flagOutput, 0, len(flags))
	for _, f := range flags {
		o := flagOutput{Index: f.Index, Duplicate: f.Duplicate, Confidence: f.Confidence, Similarity: f.Similarity}
		if f.MatchedTransactionID != nil {
			o.MatchedTransactionID = f.MatchedTransactionID.String()
		}
		if f.MatchedCandidate >= 0 {
			matched := f.MatchedCandidate
			o.MatchedCandidate = &matched
		}
		out = append(out, o)
	}

	if opts.Format == "json" {
		return outputJSON(cmd, out)
	}
	for _, o := range out {
		if !o.Duplicate {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d  unique\n", o.Index)
			continue
		}
		match := o.MatchedTransactionID
		if o.MatchedCandidate != nil {
			match = fmt.Sprintf("candidate #%d", *o.MatchedCandidate)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d  duplicate of %s  confidence=%.2f similarity=%.2f\n",
			o.Index, match, o.Confidence, o.Similarity)
	}
	return nil
}

func readCandidates(cmd *cobra.Command, path string) ([]duplicate.Candidate, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var raw []candidateInput
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}

	candidates := make([]duplicate.Candidate, 0, len(raw))
	for i, c := range raw {
		date, err := time.Parse(time.DateOnly, c.Date)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: invalid date %q", i, c.Date)
		}
		candidates = append(candidates, duplicate.Candidate{
			Date:        date,
			Description: c.Description,
			Amount:      c.Amount,
			Currency:    c.Currency,
			Type:        domain.TransactionType(c.Type),
		})
	}
	return candidates, nil
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := postgres.NewDB(rootOpts.Config.DBConnStr)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
