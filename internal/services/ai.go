package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwebster45206/tavern-phone/internal/metrics"
	"github.com/jwebster45206/tavern-phone/pkg/module"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
	"github.com/jwebster45206/tavern-phone/pkg/textfilter"
)

// Result is what every fetch returns to the UI layer. Errors are short
// human-readable strings.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Raw is the unparsed response, kept for diagnostics.
	Raw string `json:"-"`
}

// Session is the per-chat state a fetch needs.
type Session struct {
	Filler *prompts.Filler
	Gate   *RequestGate
	// Media resolves sticker and image names for chat views. A nil lookup
	// drops every media reference.
	Media module.MediaLookup
}

// AIService fills the active preset, calls the model and parses the answer.
type AIService struct {
	llm     LLMService
	presets *PresetStore
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewAIService creates the service. llm may be nil when the API is not
// configured; every fetch then fails without a network call.
// requestsPerMinute of 0 disables throttling.
func NewAIService(llm LLMService, presets *PresetStore, requestsPerMinute int, logger *slog.Logger) *AIService {
	s := &AIService{llm: llm, presets: presets, logger: logger}
	if requestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return s
}

// Configured reports whether fetches can reach a model.
func (s *AIService) Configured() bool {
	return s.llm != nil
}

// Prepare fills the active preset for fc. Defaults for the format guide,
// history limits, page and user input come from the preset and the view.
func (s *AIService) Prepare(ctx context.Context, filler *prompts.Filler, fc prompts.FillContext) []prompts.Block {
	preset := s.presets.Current()
	if fc.FormatGuide == nil {
		fc.FormatGuide = preset.FormatGuide
	}
	if fc.History == nil {
		h := preset.History
		fc.History = &h
	}
	if fc.Page == "" {
		fc.Page = fc.View
	}
	if fc.UserInput == "" {
		fc.UserInput = DefaultInput(fc.View, fc.CharacterName)
	}
	return filler.Fill(ctx, preset.Blocks, fc)
}

// Complete sends a prepared message list and returns the raw answer.
func (s *AIService) Complete(ctx context.Context, gate *RequestGate, blocks []prompts.Block) (string, error) {
	if s.llm == nil {
		return "", ErrNotConfigured
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	reqCtx, done := gate.Begin(ctx)
	content, err := s.llm.Chat(reqCtx, prompts.ToMessages(blocks))
	if done() {
		return "", ErrAborted
	}
	return content, err
}

// Fetch runs one full AI request for a view.
func (s *AIService) Fetch(ctx context.Context, sess *Session, fc prompts.FillContext) Result {
	if s.llm == nil {
		metrics.AIRequests.WithLabelValues(fc.View, metrics.ResultSkipped).Inc()
		return Result{Error: ErrNotConfigured.Error()}
	}

	content, err := s.Complete(ctx, sess.Gate, s.Prepare(ctx, sess.Filler, fc))
	switch {
	case errors.Is(err, ErrAborted):
		metrics.AIRequests.WithLabelValues(fc.View, metrics.ResultAborted).Inc()
		return Result{Error: ErrAborted.Error()}
	case err != nil:
		s.logger.Error("AI request failed", "view", fc.View, "error", err)
		metrics.AIRequests.WithLabelValues(fc.View, metrics.ResultError).Inc()
		return Result{Error: err.Error()}
	}

	data, err := textfilter.ParseResponse(content)
	if err != nil {
		s.logger.Warn("Unparsable AI response", "view", fc.View, "length", len(content))
		metrics.AIRequests.WithLabelValues(fc.View, metrics.ResultError).Inc()
		return Result{Error: err.Error(), Raw: content}
	}

	if m, ok := data.(map[string]any); ok && isChatView(fc.View) {
		module.FilterMediaValue(m, sess.Media, s.logger)
	}

	metrics.AIRequests.WithLabelValues(fc.View, metrics.ResultSuccess).Inc()
	return Result{Success: true, Data: data, Raw: content}
}

func isChatView(view string) bool {
	return view == "privateChat" || view == "groupChat"
}

// DefaultInput is the instruction used when a request carries no user input.
func DefaultInput(view, character string) string {
	switch view {
	case "map":
		return "请根据当前剧情生成地图数据，包括各地点的状态、事件和人物位置。"
	case "dynamic":
		return "请按照格式生成动态界面数据，包括多个用户发布的动态帖子及评论。"
	case "dynamicHome":
		return "请按照格式生成" + character + "的个人动态主页"
	case "forum":
		return "请按照格式生成论坛"
	case "liveList":
		return "按照格式要求生成直播列表"
	case "email":
		return "按照格式要求生成邮箱内容"
	case "calendar":
		return "根据历史聊天内容，生成符合剧情走向和世界观的日历事件表。包括世界事件、大型事件、用户事件和角色事件。请确保日期、时间和星期的一致性。"
	case "diary":
		return "请按照格式生成" + character + "的最新日记，第一人称视角书写，包含日期、天气、日记内容以及可能收集到的纪念品。"
	}
	return ""
}

// UserLabel renders the phone owner as the prompts refer to them.
func UserLabel(name string) string {
	return "用户" + name
}

// PrivateChatInput asks for the next private messages from target.
func PrivateChatInput(target, userLabel string, sent []string) string {
	if len(sent) == 0 {
		return "和" + target + "的私聊\n我方没有回复，让对方继续发送消息，请按照格式要求生成回复内容"
	}
	return "和" + target + "的私聊\n" + userLabel + "（我方）发送：\n" + strings.Join(sent, "\n") + "\n请按照格式要求生成回复内容"
}

// GroupChatInput asks for the next messages in a group chat.
func GroupChatInput(group, userLabel string, sent []string) string {
	if len(sent) == 0 {
		return "群聊\"" + group + "\"中\n我方没有发言，让群成员继续聊天，请按照格式要求生成群聊消息"
	}
	return "群聊\"" + group + "\"中\n" + userLabel + "（我方）发送：\n" + strings.Join(sent, "\n") + "\n请按照格式要求生成群聊消息"
}
