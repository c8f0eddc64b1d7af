package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/tavern-phone/internal/storage"
)

func newImportCmd() *cobra.Command {
	var (
		redisURL string
		chatID   string
	)
	cmd := &cobra.Command{
		Use:   "import <export.json>",
		Short: "Seed a chat in Redis from a host export",
		Long: `Replaces the chat's transcript and merges its variables, then stores the
worldbooks, bindings and character card from the export.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := readExport(args[0])
			if err != nil {
				return err
			}
			rs, err := storage.NewRedisStorage(redisURL, cliLogger())
			if err != nil {
				return err
			}
			defer rs.Close()
			if err := importExport(cmd.Context(), rs.Chat(chatID), e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d floors, %d worldbooks into %s\n",
				okStyle.Render("Imported"), len(e.Floors), len(e.Worldbooks), chatID)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", "redis://localhost:6379", "Redis URL")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func importExport(ctx context.Context, chat *storage.ChatStorage, e *Export) error {
	if err := chat.Import(ctx, e.Floors, e.Variables); err != nil {
		return err
	}
	for name, entries := range e.Worldbooks {
		if err := chat.PutWorldbook(ctx, name, entries); err != nil {
			return fmt.Errorf("failed to store worldbook %s: %w", name, err)
		}
	}
	if err := chat.SetBindings(ctx, e.Bindings); err != nil {
		return err
	}
	if e.Card != nil {
		if err := chat.SetCard(ctx, *e.Card); err != nil {
			return err
		}
	}
	return nil
}
