package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"marketplace-assistant/internal/usecase"
)

const (
	pkPrefixChannel = "CHANNEL#"
	skPrefixMsg     = "MSG#"
)

// ChatUseCase is the chat turn state machine consumed by ChatHandler.
type ChatUseCase interface {
	HandleMessage(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// ChatHandler is the Lambda entry point for DynamoDB stream events on the
// state table. It reacts to message document updates and delegates each one
// to the chat use case.
type ChatHandler struct {
	chat ChatUseCase
	log  *slog.Logger
}

func NewChatHandler(chat ChatUseCase) (*ChatHandler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	return &ChatHandler{chat: chat, log: slog.Default()}, nil
}

// Handle processes every MODIFY record whose new image is a message document.
// Guard skips are logged and not treated as failures; record-level errors are
// joined so the platform records a failed invocation.
func (h *ChatHandler) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	var errs []error
	for _, rec := range event.Records {
		if rec.EventName != string(events.DynamoDBOperationTypeModify) {
			continue
		}
		img := rec.Change.NewImage
		if !strings.HasPrefix(strField(img, "SK"), skPrefixMsg) {
			continue
		}

		channelID := strField(img, "channel_id")
		if channelID == "" {
			channelID = strings.TrimPrefix(strField(img, "PK"), pkPrefixChannel)
		}
		in := usecase.ChatInput{
			ChannelID: channelID,
			MessageID: strField(img, "id"),
			SenderID:  strField(img, "sender_id"),
			Text:      firstNonEmpty(strField(img, "text"), strField(img, "body")),
		}

		out, err := h.chat.HandleMessage(ctx, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("handler: chat record %s: %w", rec.EventID, err))
			continue
		}
		if out.Skipped {
			h.log.DebugContext(ctx, "chat turn skipped",
				"reason", out.SkipReason, "channel_id", in.ChannelID)
			continue
		}
		h.log.InfoContext(ctx, "assistant reply persisted", "channel_id", in.ChannelID)
	}
	return errors.Join(errs...)
}

// strField reads a string attribute from a stream image, tolerating missing
// keys and non-string types.
func strField(img map[string]events.DynamoDBAttributeValue, key string) string {
	v, ok := img[key]
	if !ok || v.DataType() != events.DataTypeString {
		return ""
	}
	return v.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
