package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/tavern-phone/internal/services/queue"
	queuePkg "github.com/jwebster45206/tavern-phone/pkg/queue"
)

func newEnqueueCmd() *cobra.Command {
	var (
		redisURL string
		chatID   string
		floorID  int
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a generation-ended event for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := queue.NewClient(redisURL, cliLogger())
			if err != nil {
				return err
			}
			defer client.Close()

			req := queuePkg.NewGenerationEnded(chatID, floorID)
			err = queue.NewGenerationQueue(client).Enqueue(cmd.Context(), req)
			if errors.Is(err, queue.ErrDuplicate) {
				fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render(fmt.Sprintf("floor %d of %s was already queued", floorID, chatID)))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("Queued"), req.RequestID)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", "redis://localhost:6379", "Redis URL")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	cmd.Flags().IntVar(&floorID, "floor", -1, "floor that finished generating; -1 for the latest")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}
