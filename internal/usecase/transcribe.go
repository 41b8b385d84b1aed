package usecase

import (
	"context"
	"errors"
	"strings"
)

const transcribePrompt = "Transcribe this audio."

// AudioModel is the slice of the model client the transcription flow needs.
type AudioModel interface {
	TranscribeAudio(ctx context.Context, model, audioURI, prompt string) (string, error)
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// TranslationStore writes translations back onto transcription requests.
type TranslationStore interface {
	SetTranslation(ctx context.Context, documentID, text string) error
}

// TranscribeService handles one transcription request: transcribe the audio,
// translate the transcript with a second independent model call, write the
// translation back. No tools, no conversation history, no shared session.
type TranscribeService struct {
	llm   AudioModel
	store TranslationStore
	model string
}

type TranscribeInput struct {
	DocumentID string
	Language   string
	AudioPath  string
}

type TranscribeOutput struct {
	Translation string
	Skipped     bool
	SkipReason  string
}

func NewTranscribeService(llm AudioModel, store TranslationStore, model string) (*TranscribeService, error) {
	if llm == nil {
		return nil, errors.New("usecase: audio model must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: translation store must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	return &TranscribeService{llm: llm, store: store, model: model}, nil
}

func (s *TranscribeService) Handle(ctx context.Context, in TranscribeInput) (TranscribeOutput, error) {
	if strings.TrimSpace(in.DocumentID) == "" {
		return TranscribeOutput{Skipped: true, SkipReason: "missing_document_id"}, nil
	}
	if strings.TrimSpace(in.AudioPath) == "" {
		return TranscribeOutput{Skipped: true, SkipReason: "missing_audio_path"}, nil
	}
	if strings.TrimSpace(in.Language) == "" {
		return TranscribeOutput{Skipped: true, SkipReason: "missing_language"}, nil
	}

	transcript, err := s.llm.TranscribeAudio(ctx, s.model, in.AudioPath, transcribePrompt)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return TranscribeOutput{}, newError(ErrorRateLimited, "gemini_rate_limited", err)
		}
		return TranscribeOutput{}, newError(ErrorUpstream, "transcription_error", err)
	}

	translated, err := s.llm.GenerateText(ctx, s.model,
		"Translate the following text: "+transcript+" to the language "+in.Language)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return TranscribeOutput{}, newError(ErrorRateLimited, "gemini_rate_limited", err)
		}
		return TranscribeOutput{}, newError(ErrorUpstream, "translation_error", err)
	}

	if err := s.store.SetTranslation(ctx, in.DocumentID, translated); err != nil {
		return TranscribeOutput{}, newError(ErrorInternal, "translation_write_error", err)
	}

	return TranscribeOutput{Translation: translated}, nil
}
