package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/internal/services"
	"github.com/jwebster45206/tavern-phone/pkg/media"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// swapped out in tests
var clipboardWriteAll = clipboard.WriteAll

type previewOptions struct {
	view      string
	character string
	targets   []string
	input     string
	preset    string
	stickers  string
	width     int
	copy      bool
}

func newPreviewCmd() *cobra.Command {
	var opts previewOptions
	cmd := &cobra.Command{
		Use:   "preview <export.json>",
		Short: "Show the filled prompt a view would send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := readExport(args[0])
			if err != nil {
				return err
			}
			return runPreview(cmd.Context(), cmd.OutOrStdout(), e.Mock(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.view, "view", "", "view to fill for, e.g. privateChat or map")
	f.StringVarP(&opts.character, "character", "c", "", "character the request is about")
	f.StringSliceVarP(&opts.targets, "target", "t", nil, "chat targets (repeatable)")
	f.StringVar(&opts.input, "input", "", "user input; defaults to the view's request")
	f.StringVar(&opts.preset, "preset", "", "preset file; defaults to the built-in preset")
	f.StringVar(&opts.stickers, "stickers", "", "sticker list file")
	f.IntVarP(&opts.width, "width", "w", 100, "wrap block content at this width")
	f.BoolVar(&opts.copy, "copy", false, "copy the message list as JSON to the clipboard")
	_ = cmd.MarkFlagRequired("view")
	return cmd
}

func runPreview(ctx context.Context, out io.Writer, host storage.Storage, opts previewOptions) error {
	log := cliLogger()
	presets, err := services.NewPresetStore(opts.preset, log)
	if err != nil {
		return err
	}
	var stickers []media.Item
	if opts.stickers != "" {
		if stickers, err = media.LoadStickers(opts.stickers); err != nil {
			return err
		}
	}

	ai := services.NewAIService(nil, presets, 0, log)
	store := modules.NewStore("preview", host, modules.Deps{AI: ai, Stickers: stickers, Logger: log})
	blocks := ai.Prepare(ctx, store.Filler(), prompts.FillContext{
		View:          opts.view,
		CharacterName: opts.character,
		Targets:       opts.targets,
		UserInput:     opts.input,
	})

	printBlocks(out, blocks, opts.width)

	if opts.copy {
		data, err := json.MarshalIndent(prompts.ToMessages(blocks), "", "  ")
		if err != nil {
			return err
		}
		if err := clipboardWriteAll(string(data)); err != nil {
			return fmt.Errorf("failed to copy to clipboard: %w", err)
		}
		fmt.Fprintln(out, okStyle.Render("Copied message list to clipboard"))
	}
	return nil
}

func printBlocks(out io.Writer, blocks []prompts.Block, width int) {
	for _, b := range blocks {
		content := strings.TrimSpace(b.Content)
		if content == "" {
			continue
		}
		title := b.Name
		if title == "" {
			title = b.ID
		}
		fmt.Fprintf(out, "%s %s\n", headerStyle.Render(title), labelStyle.Render("("+b.Role+")"))
		if width > 0 {
			content = wordwrap.String(content, width)
		}
		fmt.Fprintln(out, content)
		fmt.Fprintln(out)
	}
}
