package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/tavern-phone/internal/logger"
	"github.com/jwebster45206/tavern-phone/internal/metrics"
	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/internal/services"
	"github.com/jwebster45206/tavern-phone/internal/services/events"
	"github.com/jwebster45206/tavern-phone/pkg/actor"
	"github.com/jwebster45206/tavern-phone/pkg/command"
	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/module"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
	"github.com/jwebster45206/tavern-phone/pkg/queue"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// Processor reacts to a finished AI turn: it registers new friends and runs
// the auto-reply commands found in the floor.
type Processor struct {
	registry  *modules.Registry
	center    *events.Center
	addFriend *command.Parser[command.AddFriend]
	sendMsg   *command.Parser[command.SendMessage]
	newID     func() string
	logger    *slog.Logger
}

// NewProcessor creates a processor. center may be nil.
func NewProcessor(registry *modules.Registry, center *events.Center, logger *slog.Logger) *Processor {
	return &Processor{
		registry:  registry,
		center:    center,
		addFriend: command.NewAddFriendParser(logger),
		sendMsg:   command.NewSendMessageParser(logger),
		newID:     actor.NewCharacterID,
		logger:    logger,
	}
}

// Process handles one generation-ended request. Commands run strictly one
// after another; a failing command does not stop the ones after it.
func (p *Processor) Process(ctx context.Context, req *queue.Request) error {
	store := p.registry.Get(req.ChatID)
	floor, err := readFloor(ctx, store.Host(), req.FloorID)
	if err != nil {
		return err
	}
	log := logger.WithChat(p.logger, req.ChatID).With("floor_id", floor.ID)

	p.handleAddFriend(ctx, store, floor.Message, log)
	p.handleSendMessages(ctx, store, floor.Message, log)
	return nil
}

func readFloor(ctx context.Context, host storage.Floors, id int) (storage.Floor, error) {
	if id < 0 {
		last, err := host.LastFloorID(ctx)
		if err != nil {
			return storage.Floor{}, fmt.Errorf("failed to read last floor id: %w", err)
		}
		if last < 0 {
			return storage.Floor{}, history.ErrNoFloors
		}
		id = last
	}
	floors, err := host.Floors(ctx, id, id)
	if err != nil {
		return storage.Floor{}, fmt.Errorf("failed to read floor %d: %w", id, err)
	}
	if len(floors) == 0 {
		return storage.Floor{}, fmt.Errorf("floor %d not found", id)
	}
	return floors[0], nil
}

func (p *Processor) handleAddFriend(ctx context.Context, store *modules.Store, text string, log *slog.Logger) {
	cfg := store.Settings().AddFriend(ctx)
	if !cfg.Enabled {
		return
	}
	cmds := p.addFriend.ParseAll(text)
	if len(cmds) == 0 {
		return
	}
	log.Info("Detected add_friend commands", "count", len(cmds))

	saved := false
	for _, cmd := range cmds {
		inserted, err := actor.SaveFriend(ctx, store.Host(), cmd, p.newID)
		if err != nil {
			log.Error("Failed to save friend", "character", cmd.Name, "error", err)
			metrics.Commands.WithLabelValues("add_friend", metrics.ResultError).Inc()
			continue
		}
		saved = true
		log.Info("Saved friend", "character", cmd.Name, "inserted", inserted)
		metrics.Commands.WithLabelValues("add_friend", metrics.ResultSuccess).Inc()
		if p.center != nil {
			p.center.FriendAdded(ctx, store.ChatID(), cmd.Name, cmd.Nickname)
		}
	}

	if !saved || !cfg.UpdateBasicInfo {
		return
	}
	vars, err := store.Host().GetVariables(ctx, storage.VariableOption{Type: storage.ScopeCharacter})
	if err != nil {
		log.Error("Failed to read phone data", "error", err)
		return
	}
	phone, err := actor.FromVariables(vars)
	if err != nil {
		log.Error("Failed to read phone data", "error", err)
		return
	}
	if _, err := actor.UpdateRosterEntry(ctx, store.Host(), phone); err != nil {
		log.Warn("Failed to update roster entry", "error", err)
	}
}

func (p *Processor) handleSendMessages(ctx context.Context, store *modules.Store, text string, log *slog.Logger) {
	if !store.Settings().AutoReply(ctx).AnyEnabled() {
		return
	}
	cmds := p.sendMsg.ParseAll(text)
	if len(cmds) == 0 {
		return
	}
	log.Info("Detected send_message commands", "count", len(cmds))

	for _, cmd := range cmds {
		// Enablement is read per command so a change made mid-batch is seen.
		if !store.Settings().AutoReply(ctx)[cmd.App] {
			log.Info("Skipping command for disabled app", "app", string(cmd.App))
			metrics.Commands.WithLabelValues("send_message", metrics.ResultSkipped).Inc()
			continue
		}
		if err := p.SendMessage(ctx, store, cmd); err != nil {
			log.Warn("send_message failed", "app", string(cmd.App), "sender", cmd.Sender, "error", err)
		}
	}
}

// SendMessage generates and persists the content of one send_message
// command, reporting progress through the notification center.
func (p *Processor) SendMessage(ctx context.Context, store *modules.Store, cmd command.SendMessage) error {
	var id string
	if p.center != nil {
		id = p.center.Generating(ctx, store.ChatID(), string(cmd.App), cmd.Sender)
	}

	err := p.runSendMessage(ctx, store, cmd)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		if errors.Is(err, services.ErrAborted) {
			result = metrics.ResultAborted
		}
	}
	metrics.Commands.WithLabelValues("send_message", result).Inc()

	if p.center != nil {
		if err != nil {
			p.center.Error(ctx, store.ChatID(), id, err.Error())
		} else {
			p.center.Success(ctx, store.ChatID(), id, string(cmd.App), cmd.Sender)
		}
	}
	return err
}

func (p *Processor) runSendMessage(ctx context.Context, store *modules.Store, cmd command.SendMessage) error {
	switch cmd.App {
	case command.AppPrivateChat:
		prompt := cmd.Sender + "主动发消息给用户，原因：" + cmd.Reason + "，大意：" + cmd.Content
		data, err := p.fetch(ctx, store, prompts.FillContext{
			View:      "privateChat",
			Page:      "privateChat",
			Targets:   []string{cmd.Sender},
			UserInput: services.PrivateChatInput(cmd.Sender, p.userLabel(ctx, store), []string{prompt}),
		}, "私聊生成失败")
		if err != nil {
			return err
		}
		_, err = store.SaveChatHistory(ctx, cmd.Sender, history.ChatPrivate, withName(cmd.Sender, data))
		return err

	case command.AppGroupChat:
		group := cmd.GroupName()
		prompt := cmd.Sender + "在群里发消息，原因：" + cmd.Reason + "，大意：" + cmd.Content
		data, err := p.fetch(ctx, store, prompts.FillContext{
			View:      "groupChat",
			Page:      "groupChat",
			Targets:   []string{cmd.Sender},
			UserInput: services.GroupChatInput(group, p.userLabel(ctx, store), []string{prompt}),
		}, "群聊生成失败")
		if err != nil {
			return err
		}
		_, err = store.SaveChatHistory(ctx, group, history.ChatGroup, withName(group, data))
		return err

	case command.AppDynamic:
		return p.regenerate(ctx, store, module.KindDynamic, "动态生成失败")

	case command.AppLiveList:
		return p.regenerate(ctx, store, module.KindLiveList, "直播列表生成失败")
	}
	return fmt.Errorf("unknown app %q", cmd.App)
}

func (p *Processor) regenerate(ctx context.Context, store *modules.Store, kind module.Kind, fallback string) error {
	view, _ := modules.View(kind)
	data, err := p.fetch(ctx, store, prompts.FillContext{View: view}, fallback)
	if err != nil {
		return err
	}
	payload, err := module.FromValue(kind, data)
	if err != nil {
		return err
	}
	_, err = store.Save(ctx, kind, payload)
	return err
}

func (p *Processor) fetch(ctx context.Context, store *modules.Store, fc prompts.FillContext, fallback string) (map[string]any, error) {
	res := store.Fetch(ctx, fc)
	if !res.Success {
		if res.Error == services.ErrAborted.Error() {
			return nil, services.ErrAborted
		}
		if res.Error == "" {
			res.Error = fallback
		}
		return nil, errors.New(res.Error)
	}
	data, ok := res.Data.(map[string]any)
	if !ok || data == nil {
		return nil, errors.New(fallback)
	}
	return data, nil
}

func (p *Processor) userLabel(ctx context.Context, store *modules.Store) string {
	vars, err := store.Host().GetVariables(ctx, storage.VariableOption{Type: storage.ScopeCharacter})
	if err != nil {
		return services.UserLabel("")
	}
	phone, err := actor.FromVariables(vars)
	if err != nil || phone.User == nil {
		return services.UserLabel("")
	}
	return services.UserLabel(phone.User.Name)
}

// withName returns a copy of data carrying the conversation name.
func withName(name string, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	out["name"] = name
	for k, v := range data {
		out[k] = v
	}
	return out
}
