package usecase

import (
	"context"
	"errors"
	"strings"

	"marketplace-assistant/internal/domain"
)

const (
	defaultHistoryLimit  = 20
	defaultMaxToolRounds = 3

	// fallbackReply is persisted when the model ends a turn without usable
	// text, e.g. after requesting a tool outside the registry.
	fallbackReply = "Sorry, I was not able to complete that request. Could you rephrase it?"
)

// Converser is the conversational model call consumed by the chat service.
type Converser interface {
	Converse(ctx context.Context, req domain.ConverseRequest) (domain.ModelReply, error)
}

// ChannelStore is the slice of the data access layer the chat flow needs.
type ChannelStore interface {
	GetChannelMembers(ctx context.Context, channelID string) ([]string, error)
	ListRecentMessages(ctx context.Context, channelID string, limit int) ([]domain.Message, error)
	ListActiveCategoryTags(ctx context.Context) ([]string, error)
	AppendAssistantMessage(ctx context.Context, msg domain.Message) error
}

// ToolDispatcher advertises tool declarations and executes model tool calls.
type ToolDispatcher interface {
	Declarations() []domain.ToolDeclaration
	Dispatch(ctx context.Context, call domain.ToolCall) (any, bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatConfig carries the injected assistant identity and tuning knobs.
type ChatConfig struct {
	AssistantID        string
	AssistantProfileID string
	AssistantTitle     string
	Model              string
	HistoryLimit       int
	MaxToolRounds      int
}

// ChatService runs the conversational turn state machine: guard, assemble
// history, converse with the model through bounded tool rounds, persist the
// reply.
type ChatService struct {
	llm   Converser
	store ChannelStore
	tools ToolDispatcher
	cfg   ChatConfig
}

type ChatInput struct {
	ChannelID string
	MessageID string
	SenderID  string
	Text      string
}

type ChatOutput struct {
	Reply      string
	Skipped    bool
	SkipReason string
}

func NewChatService(llm Converser, store ChannelStore, tools ToolDispatcher, cfg ChatConfig) (*ChatService, error) {
	if llm == nil {
		return nil, errors.New("usecase: converser must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: channel store must not be nil")
	}
	if tools == nil {
		return nil, errors.New("usecase: tool dispatcher must not be nil")
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, errors.New("usecase: assistant id must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	return &ChatService{llm: llm, store: store, tools: tools, cfg: cfg}, nil
}

// HandleMessage processes one triggering message update. Guard failures are
// not errors: they return a skipped output and perform no writes.
func (s *ChatService) HandleMessage(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if strings.TrimSpace(in.ChannelID) == "" {
		return skipped("missing_channel"), nil
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return skipped("missing_text"), nil
	}
	if in.SenderID == s.cfg.AssistantID {
		return skipped("self_authored"), nil
	}

	members, err := s.store.GetChannelMembers(ctx, in.ChannelID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "channel_lookup_error", err)
	}
	if !contains(members, s.cfg.AssistantID) {
		return skipped("assistant_not_member"), nil
	}

	categories, err := s.store.ListActiveCategoryTags(ctx)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "category_lookup_error", err)
	}

	msgs, err := s.store.ListRecentMessages(ctx, in.ChannelID, s.cfg.HistoryLimit)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "history_lookup_error", err)
	}

	turns := buildHistory(msgs, s.cfg.AssistantID)
	turns = append(turns, domain.ChatTurn{Role: domain.RoleUser, Text: text})

	req := domain.ConverseRequest{
		Model:        s.cfg.Model,
		SystemPrompt: buildSystemPrompt(categories),
		Tools:        s.tools.Declarations(),
		Turns:        turns,
	}

	reply, err := s.converse(ctx, req)
	if err != nil {
		return ChatOutput{}, err
	}

	for round := 0; round < s.cfg.MaxToolRounds && reply.ToolCall != nil; round++ {
		call := *reply.ToolCall
		result, known, dispatchErr := s.tools.Dispatch(ctx, call)
		if dispatchErr != nil {
			return ChatOutput{}, newError(ErrorInternal, "tool_invoke_error", dispatchErr)
		}
		if !known {
			// Tool outside the registry: no dispatch, fall back to
			// whatever text came with the request.
			reply.ToolCall = nil
			break
		}

		req.Turns = append(req.Turns,
			domain.ChatTurn{Role: domain.RoleAssistant, ToolCall: &call},
			domain.ChatTurn{Role: domain.RoleUser, ToolResult: &domain.ToolResult{Name: call.Name, Content: result}},
		)
		reply, err = s.converse(ctx, req)
		if err != nil {
			return ChatOutput{}, err
		}
	}

	body := strings.TrimSpace(reply.Text)
	if body == "" {
		body = fallbackReply
	}

	err = s.store.AppendAssistantMessage(ctx, domain.Message{
		ChannelID:   in.ChannelID,
		SenderID:    s.cfg.AssistantID,
		SenderTitle: s.cfg.AssistantTitle,
		ProfileID:   s.cfg.AssistantProfileID,
		MemberIDs:   members,
		Body:        body,
	})
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "message_write_error", err)
	}

	return ChatOutput{Reply: body}, nil
}

func (s *ChatService) converse(ctx context.Context, req domain.ConverseRequest) (domain.ModelReply, error) {
	reply, err := s.llm.Converse(ctx, req)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return domain.ModelReply{}, newError(ErrorRateLimited, "gemini_rate_limited", err)
		}
		return domain.ModelReply{}, newError(ErrorUpstream, "gemini_error", err)
	}
	return reply, nil
}

func skipped(reason string) ChatOutput {
	return ChatOutput{Skipped: true, SkipReason: reason}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
