package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/embla/internal/app"
	"github.com/MrWong99/embla/internal/config"
	"github.com/MrWong99/embla/internal/history"
	"github.com/MrWong99/embla/pkg/query"
)

func newHistoryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the query history",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := app.OpenHistory(cmd.Context(), g.cfg.History)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("history is disabled; set history.backend in %s", g.configPath)
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the local history and the backend's record of this client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := app.OpenHistory(ctx, g.cfg.History)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			client, err := historyClient(g.cfg)
			if err != nil {
				slog.Warn("backend history not cleared", "err", err)
			}
			if g.cfg.Client.ID == "" {
				slog.Warn("client.id is not set; the backend cannot match earlier queries to this client")
			}
			if err := app.ClearHistory(ctx, store, client, app.ClientInfo(g.cfg.Client), all); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "erase every stored datum for this client, not just the query log")

	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}

// historyClient builds the configured query client without speech wrapping.
func historyClient(cfg *config.Config) (query.Client, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg.CreateQuery(cfg.Providers.Query)
}

func printEntries(w io.Writer, entries []history.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no history")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tQUESTION\tANSWER\tRESULT")
	for _, e := range entries {
		result := e.Cause
		if e.Error != "" {
			result = e.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.StartedAt.Local().Format(time.DateTime), e.Question, truncate(e.Answer, 60), result)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
