package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/reactor/internal/automation/discovery"
	"github.com/vietddude/reactor/internal/automation/store"
	"github.com/vietddude/reactor/internal/core/domain"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Replay the registry and list the rules the engine would watch",
	Run:   runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(false)

	ctx := context.Background()
	gw, err := openGateway(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to node", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	engCfg, err := engineConfig(cfg)
	if err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}
	discCfg := engCfg.Discovery
	if engCfg.Watcher.Mode == domain.ModeRecurring {
		discCfg.ExecutedEvent = ""
	}

	st := store.New()
	head, err := discovery.New(discCfg, gw, st, nil).Replay(ctx)
	if err != nil {
		slog.Error("Failed to replay registry", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RULE\tOWNER\tTRIGGER\tCONDITION\tREGISTERED")
	for _, r := range st.Snapshot() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.Owner.Hex(), r.Trigger.Hex(), r.Condition.String(), r.RegisteredBlock)
	}
	_ = w.Flush()
	fmt.Printf("\n%d active rules at block %d\n", st.Len(), head)
}
