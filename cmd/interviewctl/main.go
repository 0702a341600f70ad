package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "interviewctl",
	Short: "Practice voice mock interviews and browse past reports",
	Long: `interviewctl runs a mock interview against the local microphone and
speaker, and reads the reports saved by previous sessions.

Configuration is read from the environment and an optional .env file,
the same way the server reads it.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), observability.Version)
	},
}

func main() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newPracticeCommand())
	rootCmd.AddCommand(newReportsCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
