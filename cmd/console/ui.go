package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/tavern-phone/internal/handlers"
	"github.com/jwebster45206/tavern-phone/internal/services/events"
	"github.com/jwebster45206/tavern-phone/pkg/command"
	"github.com/jwebster45206/tavern-phone/pkg/module"
)

const (
	PlaceHolderText = "Type a command, /help for a list..."
	maxNotes        = 8
	transcriptDepth = 50
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	api          *apiClient
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error
	loading      bool

	// Conversation picker state
	showPicker           bool
	conversations        []handlers.Conversation
	selected             int
	loadingConversations bool

	current    *handlers.Conversation
	transcript []handlers.Conversation
	settings   *handlers.SettingsBody
	output     []string
	notes      []string

	// Quit confirmation state
	showQuitModal bool

	// Progress bar state
	progressTick int
}

type conversationsLoadedMsg struct {
	conversations []handlers.Conversation
	err           error
}

type transcriptMsg struct {
	blocks []handlers.Conversation
	err    error
}

type settingsMsg struct {
	settings *handlers.SettingsBody
	err      error
}

type commandResultMsg struct {
	text string
	err  error
}

type notificationMsg struct {
	event events.Event
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	stickerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 500
	ta.SetWidth(50)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		api:                  api,
		textarea:             ta,
		chatViewport:         chatVp,
		metaViewport:         metaVp,
		showPicker:           true,
		loadingConversations: true,
	}
}

func conversationLabel(c handlers.Conversation) string {
	name, _ := c.Data["name"].(string)
	if name == "" || name == c.Target {
		return fmt.Sprintf("%s (%s)", c.Target, c.Type)
	}
	return fmt.Sprintf("%s / %s (%s)", c.Target, name, c.Type)
}

// messageSpeaker returns the sender written on a group message, if any.
func messageSpeaker(m module.Message) string {
	for _, k := range []string{"s", "sender", "from"} {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func formatMessage(m module.Message, fallback string, width int) string {
	speaker := messageSpeaker(m)
	if speaker == "" {
		speaker = fallback
	}
	var body string
	switch t := m.Type(); t {
	case "", "text":
		body = m.Content()
	default:
		body = stickerStyle.Render("[" + t + "] " + m.Content())
	}
	prefix := speakerStyle.Render(speaker + ":")
	if speaker == "user" || speaker == "me" {
		prefix = userStyle.Render("You:")
	}
	return prefix + " " + wordwrap.String(body, width-len(speaker)-2)
}

// formatBlock renders one chat_history block: its header line, then messages.
func formatBlock(b handlers.Conversation, width int) string {
	var content strings.Builder
	header := fmt.Sprintf("floor %d", b.FloorID)
	for _, k := range []string{"date", "time", "location"} {
		if v, ok := b.Data[k].(string); ok && v != "" {
			header += " · " + v
		}
	}
	content.WriteString(promptStyle.Render(header) + "\n")

	name, _ := b.Data["name"].(string)
	if name == "" {
		name = b.Target
	}
	msgs, _ := b.Data["messages"].([]any)
	for _, raw := range msgs {
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		content.WriteString(formatMessage(module.Message(fields), name, width) + "\n")
	}
	if thought, ok := b.Data["thought"].(string); ok && thought != "" {
		content.WriteString(promptStyle.Render("("+thought+")") + "\n")
	}
	return content.String()
}

func writeMetadata(api *apiClient, current *handlers.Conversation, s *handlers.SettingsBody, notes []string) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("PHONE") + "\n\n")

	content.WriteString("Chat:\n")
	content.WriteString(api.chatID + "\n\n")

	if current != nil {
		content.WriteString("Conversation:\n")
		content.WriteString(conversationLabel(*current) + "\n\n")
	}

	if s != nil {
		content.WriteString("Auto reply:\n")
		apps := make([]string, 0, len(s.AutoReply))
		for app := range s.AutoReply {
			apps = append(apps, string(app))
		}
		sort.Strings(apps)
		if len(apps) == 0 {
			content.WriteString("None set\n")
		}
		for _, app := range apps {
			mark := "off"
			if s.AutoReply[command.App(app)] {
				mark = "on"
			}
			content.WriteString(fmt.Sprintf("• %s: %s\n", app, mark))
		}
		if s.Display != nil {
			content.WriteString(fmt.Sprintf("\nHistory window:\n%d floors\n", s.Display.HistoryReadCount))
		}
		content.WriteString("\n")
	}

	content.WriteString("Events:\n")
	if len(notes) == 0 {
		content.WriteString("None yet\n")
	}
	for _, n := range notes {
		content.WriteString("• " + n + "\n")
	}

	content.WriteString("\n")
	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• /list: Conversations\n")

	return content.String()
}

// writeChatContent rebuilds the transcript for the current viewport width.
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6 // Account for left(3) + right(3) padding
	if chatWidth < 20 {
		chatWidth = 20
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("TAVERN PHONE") + "\n\n")
	if m.current != nil {
		content.WriteString(conversationLabel(*m.current) + "\n")
	}
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth-6)) + "\n\n")

	if len(m.transcript) == 0 {
		content.WriteString(promptStyle.Render("No messages in the history window.") + "\n\n")
	}
	for _, b := range m.transcript {
		content.WriteString(formatBlock(b, chatWidth) + "\n")
	}

	for _, out := range m.output {
		content.WriteString(out + "\n\n")
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func (m *ConsoleUI) writeMeta() {
	m.metaViewport.SetContent(writeMetadata(m.api, m.current, m.settings, m.notes))
}

func (m *ConsoleUI) resize() {
	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6
	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 5
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(m.loadConversations(), m.loadSettings())
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Events and settings arrive regardless of which screen is shown.
	switch msg := msg.(type) {
	case notificationMsg:
		return m.handleNotification(msg.event)
	case settingsMsg:
		if msg.err == nil {
			m.settings = msg.settings
			m.writeMeta()
		}
		return m, nil
	}

	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	if m.showPicker {
		return m.updatePicker(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.writeChatContent()
		m.writeMeta()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			return m.handleCommand(input)
		}

	case transcriptMsg:
		m.loading = false
		if msg.err != nil {
			m.output = append(m.output, errorStyle.Render("Error: "+msg.err.Error()))
		} else {
			m.transcript = msg.blocks
		}
		m.writeChatContent()
		return m, nil

	case commandResultMsg:
		m.loading = false
		if msg.err != nil {
			m.output = append(m.output, errorStyle.Render("Error: "+msg.err.Error()))
		} else if msg.text != "" {
			m.output = append(m.output, msg.text)
		}
		m.writeChatContent()
		return m, m.loadSettings()

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleNotification(ev events.Event) (tea.Model, tea.Cmd) {
	note := string(ev.Type)
	if floor, ok := ev.Data["floor_id"].(float64); ok {
		note += " #" + strconv.Itoa(int(floor))
	}
	if mode, ok := ev.Data["mode"].(string); ok && mode != "" {
		note += " " + mode
	}
	if title, ok := ev.Data["title"].(string); ok && title != "" {
		note += " " + title
	}
	if status, ok := ev.Data["status"].(string); ok && status != "" {
		note += " " + status
	}
	m.notes = append(m.notes, time.Now().Format("15:04:05")+" "+note)
	if len(m.notes) > maxNotes {
		m.notes = m.notes[len(m.notes)-maxNotes:]
	}
	m.writeMeta()

	// A new floor may hold new chat blocks.
	if ev.Type == events.EventTypeFloorWritten {
		if m.showPicker {
			return m, m.loadConversations()
		}
		if m.current != nil {
			return m, m.loadTranscript(*m.current)
		}
	}
	return m, nil
}

const helpText = `
Commands:
• /list - Pick another conversation
• /refresh - Reload the transcript
• /generate - Process commands on the latest floor
• /abort - Abort the running AI request
• /module <kind> [character] [force] - Show a module
• /auto <app> on|off - Toggle auto reply for an app
• /clear - Clear command output
• Ctrl+C - Quit
`

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/help":
		m.output = append(m.output, titleStyle.Render("Help:")+helpText)

	case "/list":
		m.showPicker = true
		m.loadingConversations = true
		return m, m.loadConversations()

	case "/refresh":
		if m.current != nil {
			m.loading = true
			m.progressTick = 0
			return m, tea.Batch(m.loadTranscript(*m.current), progressTick())
		}

	case "/clear":
		m.output = nil

	case "/generate":
		m.loading = true
		m.progressTick = 0
		return m, tea.Batch(m.runGenerate(), progressTick())

	case "/abort":
		return m, m.runAbort()

	case "/module":
		if len(fields) < 2 {
			m.output = append(m.output, errorStyle.Render("Usage: /module <kind> [character] [force]"))
			break
		}
		var character string
		force := false
		for _, f := range fields[2:] {
			if f == "force" {
				force = true
			} else {
				character = f
			}
		}
		m.loading = true
		m.progressTick = 0
		return m, tea.Batch(m.showModule(fields[1], character, force), progressTick())

	case "/auto":
		if len(fields) != 3 || (fields[2] != "on" && fields[2] != "off") {
			m.output = append(m.output, errorStyle.Render("Usage: /auto <app> on|off"))
			break
		}
		return m, m.setAutoReply(fields[1], fields[2] == "on")

	default:
		m.output = append(m.output, errorStyle.Render("Unknown command "+fields[0]+", try /help"))
	}

	m.writeChatContent()
	return m, nil
}

func (m ConsoleUI) loadConversations() tea.Cmd {
	return func() tea.Msg {
		convs, err := m.api.listConversations()
		return conversationsLoadedMsg{convs, err}
	}
}

func (m ConsoleUI) loadTranscript(c handlers.Conversation) tea.Cmd {
	return func() tea.Msg {
		blocks, err := m.api.transcript(c, transcriptDepth)
		return transcriptMsg{blocks, err}
	}
}

func (m ConsoleUI) loadSettings() tea.Cmd {
	return func() tea.Msg {
		s, err := m.api.settings()
		return settingsMsg{s, err}
	}
}

func (m ConsoleUI) runGenerate() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.api.generate()
		if err != nil {
			return commandResultMsg{err: err}
		}
		return commandResultMsg{text: "Queued request " + resp.RequestID}
	}
}

func (m ConsoleUI) runAbort() tea.Cmd {
	return func() tea.Msg {
		aborted, err := m.api.abort()
		if err != nil {
			return commandResultMsg{err: err}
		}
		if !aborted {
			return commandResultMsg{text: "No AI request was running."}
		}
		return commandResultMsg{text: "Aborted the running AI request."}
	}
}

func (m ConsoleUI) showModule(kind, character string, force bool) tea.Cmd {
	return func() tea.Msg {
		data, err := m.api.module(kind, character, force)
		if err != nil {
			return commandResultMsg{err: err}
		}
		out, err := yaml.Marshal(data)
		if err != nil {
			return commandResultMsg{err: err}
		}
		return commandResultMsg{text: titleStyle.Render(kind+":") + "\n" + strings.TrimRight(string(out), "\n")}
	}
}

func (m ConsoleUI) setAutoReply(app string, on bool) tea.Cmd {
	return func() tea.Msg {
		if err := m.api.setAutoReply(app, on); err != nil {
			return commandResultMsg{err: err}
		}
		return commandResultMsg{text: fmt.Sprintf("Auto reply for %s is now %v.", app, on)}
	}
}

func (m ConsoleUI) updatePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case conversationsLoadedMsg:
		m.loadingConversations = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.conversations = msg.conversations
			if m.selected >= len(m.conversations) {
				m.selected = 0
			}
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyUp:
			if m.selected > 0 {
				m.selected--
			}
		case tea.KeyDown:
			if m.selected < len(m.conversations)-1 {
				m.selected++
			}
		case tea.KeyEnter:
			if m.loadingConversations || m.err != nil || len(m.conversations) == 0 {
				return m, nil
			}
			c := m.conversations[m.selected]
			m.current = &c
			m.transcript = nil
			m.output = nil
			m.showPicker = false
			if m.width > 0 && m.height > 0 {
				m.resize()
			}
			m.ready = true
			m.loading = true
			m.writeChatContent()
			m.writeMeta()
			m.textarea.Focus()
			return m, tea.Batch(m.loadTranscript(c), textarea.Blink, progressTick())
		}
	}

	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				if m.showPicker {
					return m, nil
				}
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Close the phone console?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderPicker() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder

	switch {
	case m.loadingConversations:
		content.WriteString(modalTitleStyle.Render("Loading Conversations..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Scanning the chat history..."))
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(fmt.Sprintf("Failed to load conversations: %v", m.err)))
		content.WriteString("\n\n")
		content.WriteString("Press Ctrl+C to exit")
	case len(m.conversations) == 0:
		content.WriteString(modalTitleStyle.Render("No Conversations"))
		content.WriteString("\n\n")
		content.WriteString("This chat has no phone conversations yet.\n")
		content.WriteString(promptStyle.Render("The list refreshes when a floor is written. Ctrl+C to exit"))
	default:
		content.WriteString(modalTitleStyle.Render("Select a Conversation"))
		content.WriteString("\n\n")
		for i, c := range m.conversations {
			if i == m.selected {
				content.WriteString(modalSelectedItemStyle.Render("▶ " + conversationLabel(c)))
			} else {
				content.WriteString(modalItemStyle.Render("  " + conversationLabel(c)))
			}
			content.WriteString("\n")
		}
		content.WriteString("\n")
		content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit"))
	}

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if m.showPicker {
		return m.renderPicker()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", chatWidth-4)),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30 // fallback before sizing
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
