// Command phonectl is the operator CLI: it validates worldbooks, inspects
// exported transcripts offline and feeds events to a running worker.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")) // pink
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))            // dark grey
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))             // green
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))            // red
)

var verbose bool

func cliLogger() *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "phonectl",
		Short:         "Operator tools for the tavern phone service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log scanner and parser diagnostics to stderr")

	root.AddCommand(
		newValidateCmd(),
		newScanCmd(),
		newPreviewCmd(),
		newEnqueueCmd(),
		newImportCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
