package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/tavern-phone/pkg/conditionals"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <worldbook.json>...",
		Short: "Check worldbook condition tags",
		Long: `Reports worldbook entries whose titles look like condition tags but do not
parse, and tags whose range expressions are malformed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				n, err := validateFile(cmd.OutOrStdout(), path)
				if err != nil {
					return err
				}
				failed += n
			}
			if failed > 0 {
				return fmt.Errorf("%d problem(s) found", failed)
			}
			return nil
		},
	}
}

func validateFile(out io.Writer, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var entries []storage.WorldbookEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("%s is not a worldbook entry list: %w", path, err)
	}
	return reportIssues(out, path, len(entries), conditionals.Lint(entries)), nil
}

func reportIssues(out io.Writer, path string, total int, issues []conditionals.Issue) int {
	fmt.Fprintln(out, headerStyle.Render(path))
	if len(issues) == 0 {
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("  %d entries, all tags valid", total)))
		return 0
	}
	for _, is := range issues {
		fmt.Fprintf(out, "  %s %s\n", errorStyle.Render("✗ "+is.Entry), labelStyle.Render(is.Reason))
	}
	return len(issues)
}
