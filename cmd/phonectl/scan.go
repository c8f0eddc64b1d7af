package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/module"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

func newScanCmd() *cobra.Command {
	var (
		kind      string
		character string
		depth     int
	)
	cmd := &cobra.Command{
		Use:   "scan <export.json>",
		Short: "Find the most recent module block in an exported transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := module.ParseKind(kind)
			if err != nil {
				return err
			}
			if k.Scoped() && character == "" {
				return fmt.Errorf("--character is required for %s", k)
			}
			e, err := readExport(args[0])
			if err != nil {
				return err
			}
			return scanModule(cmd.Context(), cmd.OutOrStdout(), e.Mock(), k, character, depth)
		},
	}
	cmd.Flags().StringVarP(&kind, "module", "m", "", "module kind, e.g. map or dynamicHome")
	cmd.Flags().StringVarP(&character, "character", "c", "", "character for character-scoped modules")
	cmd.Flags().IntVar(&depth, "depth", 0, "newest floors to scan; 0 scans everything")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

func scanModule(ctx context.Context, out io.Writer, host storage.Floors, kind module.Kind, character string, depth int) error {
	scanner := history.NewScanner(host, func(context.Context) int { return depth }, cliLogger())
	hit, err := scanner.FindLatest(ctx, kind.Key(character))
	if err != nil {
		return err
	}
	if hit == nil {
		fmt.Fprintln(out, labelStyle.Render("no "+string(kind)+" block in range"))
		return nil
	}
	data, err := module.Decode(kind, hit.Node)
	if err != nil {
		return err
	}
	body, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s @ floor %d", kind, hit.FloorID)))
	fmt.Fprint(out, string(body))
	return nil
}
