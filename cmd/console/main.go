// Command console is a terminal viewer for one chat's phone: it lists
// conversations, follows live notifications and runs operator commands
// against the API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwebster45206/tavern-phone/internal/services/events"
)

type ConsoleConfig struct {
	APIBaseURL string
	ChatID     string
	Timeout    time.Duration
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		ChatID:     getEnv("CHAT_ID", ""),
		Timeout:    30 * time.Second,
	}
	if len(os.Args) > 1 {
		cfg.ChatID = os.Args[1]
	}
	if cfg.ChatID == "" {
		fmt.Fprintf(os.Stderr, "Usage: console <chat-id> (or set CHAT_ID)\n")
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	if !testConnection(client, cfg.APIBaseURL) {
		fmt.Fprintf(os.Stderr, "Could not connect to API at %s. Please ensure the API is running.\n", cfg.APIBaseURL)
		os.Exit(1)
	}

	api := &apiClient{http: client, baseURL: cfg.APIBaseURL, chatID: cfg.ChatID}
	p := tea.NewProgram(NewConsoleUI(api),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := api.listenNotifications(ctx, func(ev events.Event) {
			p.Send(notificationMsg{ev})
		})
		if err != nil && ctx.Err() == nil {
			p.Send(commandResultMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
