package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/interview-orchestrator/internal/config"
	"github.com/lexiqai/interview-orchestrator/internal/store"
)

func newReportsCommand() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List and show saved interview reports",
	}
	cmd.PersistentFlags().StringVar(&storePath, "store", "", "Report database path (default STORE_PATH)")

	openStore := func(cmd *cobra.Command) (*store.ReportStore, error) {
		_ = godotenv.Load()
		cfg, err := config.Parse()
		if err != nil {
			return nil, err
		}
		if storePath != "" {
			cfg.StorePath = storePath
		}
		if cfg.StorePath == "" {
			return nil, errors.New("no report store configured; set STORE_PATH or --store")
		}
		// Listing must not prune what it is about to show.
		return store.Open(cmd.Context(), store.Config{Path: cfg.StorePath}, zerolog.Nop())
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer reports.Close()

			summaries, err := reports.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printSummaries(cmd.OutOrStdout(), summaries)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of reports")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer reports.Close()

			rec, err := reports.Get(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no report for session %s", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func printSummaries(w io.Writer, summaries []store.Summary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "No reports yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tDATE\tROLE\tTURNS\tSCORE\tTIER")
	for _, s := range summaries {
		role := s.TargetRole
		if role == "" {
			role = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.SessionID, s.CreatedAt.Local().Format("2006-01-02 15:04"), role, s.Turns, s.AverageScore, s.Tier)
	}
	return tw.Flush()
}
