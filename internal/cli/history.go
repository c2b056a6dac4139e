package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/storage"
	"github.com/vietddude/reactor/internal/infra/storage/postgres"
)

var (
	historyRule  uint64
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded execution attempts",
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().Uint64Var(&historyRule, "rule", 0, "only show attempts for this rule id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of attempts (default 100)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(false)

	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	filter := storage.JournalFilter{Limit: historyLimit}
	if cmd.Flags().Changed("rule") {
		id := domain.RuleID(historyRule)
		filter.RuleID = &id
	}

	attempts, err := postgres.NewJournalRepo(db).List(ctx, filter)
	if err != nil {
		slog.Error("Failed to list execution attempts", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RULE\tBLOCK\tOBSERVED\tTX\tTRIES\tSTARTED\tERROR")
	for _, a := range attempts {
		tx := "-"
		if a.Succeeded() {
			tx = a.TxHash.Hex()
		}
		observed := "-"
		if a.Observed != nil {
			observed = a.Observed.String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
			a.RuleID, a.ObservedBlock, observed, tx, a.Attempts,
			a.StartedAt.Format(time.RFC3339), a.Err)
	}
	_ = w.Flush()
}
