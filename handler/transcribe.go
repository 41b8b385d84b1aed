package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"marketplace-assistant/internal/usecase"
)

// TranscribeUseCase is the transcription flow consumed by TranscribeHandler.
type TranscribeUseCase interface {
	Handle(ctx context.Context, in usecase.TranscribeInput) (usecase.TranscribeOutput, error)
}

// TranscribeHandler is the Lambda entry point for DynamoDB stream events on
// the transcription request table. It reacts to newly created requests.
type TranscribeHandler struct {
	transcribe TranscribeUseCase
	log        *slog.Logger
}

func NewTranscribeHandler(transcribe TranscribeUseCase) (*TranscribeHandler, error) {
	if transcribe == nil {
		return nil, errors.New("handler: transcribe use case must not be nil")
	}
	return &TranscribeHandler{transcribe: transcribe, log: slog.Default()}, nil
}

func (h *TranscribeHandler) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	var errs []error
	for _, rec := range event.Records {
		if rec.EventName != string(events.DynamoDBOperationTypeInsert) {
			continue
		}

		documentID := strField(rec.Change.Keys, "id")
		if documentID == "" {
			documentID = strField(rec.Change.NewImage, "id")
		}
		in := usecase.TranscribeInput{
			DocumentID: documentID,
			Language:   strField(rec.Change.NewImage, "language"),
			AudioPath:  strField(rec.Change.NewImage, "audio_path"),
		}

		out, err := h.transcribe.Handle(ctx, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("handler: transcription record %s: %w", rec.EventID, err))
			continue
		}
		if out.Skipped {
			h.log.DebugContext(ctx, "transcription skipped",
				"reason", out.SkipReason, "document_id", in.DocumentID)
			continue
		}
		h.log.InfoContext(ctx, "translation written", "document_id", in.DocumentID)
	}
	return errors.Join(errs...)
}
