package usecase

import (
	"strings"

	"marketplace-assistant/internal/domain"
)

// buildHistory reshapes a chronological message window into the paired turn
// sequence sent to the model: user and assistant turns are collected in
// encounter order and interleaved pairwise (user[0], assistant[0], user[1],
// ...) up to the shorter side. Unpaired trailing turns are dropped, so the
// result strictly alternates starting with a user turn. This reconstructs the
// exact order only when the conversation already alternates.
func buildHistory(msgs []domain.Message, assistantID string) []domain.ChatTurn {
	var userTurns, assistantTurns []domain.ChatTurn
	for _, msg := range msgs {
		if msg.SenderID == assistantID {
			assistantTurns = append(assistantTurns, domain.ChatTurn{Role: domain.RoleAssistant, Text: msg.Body})
		} else {
			userTurns = append(userTurns, domain.ChatTurn{Role: domain.RoleUser, Text: msg.Body})
		}
	}

	pairs := len(userTurns)
	if len(assistantTurns) < pairs {
		pairs = len(assistantTurns)
	}
	history := make([]domain.ChatTurn, 0, 2*pairs)
	for i := 0; i < pairs; i++ {
		history = append(history, userTurns[i], assistantTurns[i])
	}
	return history
}

// buildSystemPrompt renders the fixed assistant instruction template with one
// bullet line per live category tag, so the model's domain knowledge stays
// current without redeployment.
func buildSystemPrompt(categories []string) string {
	bullets := make([]string, 0, len(categories))
	for _, category := range categories {
		bullets = append(bullets, "  - "+category)
	}

	return strings.Join([]string{
		"You are the marketplace virtual assistant, here to help users find the best service providers in their area.",
		"",
		"Language:",
		"Detect the user's preferred language at the beginning of the interaction and use it for all subsequent replies.",
		"",
		"Service categories:",
		strings.Join(bullets, "\n"),
		"",
		"Search rules:",
		"1) Use only the declared tools to search for service providers; never answer a provider search from chat history.",
		"2) Prompt the user for additional information only when a tool needs it, such as the tag for get_service_provider.",
		"3) Maintain a conversational and friendly tone.",
	}, "\n")
}
