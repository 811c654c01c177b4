package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"frontdesk/internal/dialog"
	"frontdesk/internal/domain"
)

// Worker result metadata keys the orchestrator understands.
const (
	resultContext  = "context"  // map[string]any merged into the turn's dialog context
	resultHandoff  = "handoff"  // true asks for a human to take over
	resultSeverity = "severity" // "critical" raises an alert
)

// handoffMarker in model output requests a human takeover; it is stripped
// from the reply.
const handoffMarker = "[handoff]"

const (
	defaultWorkerMaxTokens   = 512
	defaultWorkerTemperature = 0.3
)

var affirmations = []string{"ja", "yes", "ok", "okay", "passt", "gerne", "bitte", "sure", "genau", "korrekt", "confirm"}

// LLMWorker answers with the reasoning engine, steered by a profile.
type LLMWorker struct {
	profile  WorkerProfile
	provider domain.Provider
	timeout  time.Duration
}

func NewLLMWorker(profile WorkerProfile, provider domain.Provider, timeout time.Duration) *LLMWorker {
	return &LLMWorker{profile: profile, provider: provider, timeout: timeout}
}

func (w *LLMWorker) Handle(ctx context.Context, msg domain.InboundMessage) (*domain.WorkerResult, error) {
	prior := dialog.FromMetadata(msg)
	pending := w.profile.PendingAction != "" && prior[dialog.PendingActionKey] == w.profile.PendingAction

	system := w.profile.SystemPrompt
	if len(prior) > 0 {
		if raw, err := json.Marshal(prior); err == nil {
			system += "\n\nState carried over from the previous turn: " + string(raw)
		}
	}
	system += "\nIf the member needs a human, include " + handoffMarker + " in your answer."

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	resp, err := w.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: msg.Content},
		},
		MaxTokens:   defaultWorkerMaxTokens,
		Temperature: defaultWorkerTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%s worker: %w", w.profile.Name, err)
	}

	content, handoff := extractHandoff(stripRolePrefix(resp.Content))
	res := &domain.WorkerResult{
		Content:              content,
		Confidence:           w.profile.Confidence,
		RequiresConfirmation: w.profile.RequiresConfirmation && !pending,
		Metadata:             map[string]any{},
	}
	if handoff {
		res.Metadata[resultHandoff] = true
	}

	switch {
	case pending && isAffirmation(msg.Content):
		res.Metadata[resultContext] = map[string]any{dialog.ClearKey: true}
	case w.profile.RequiresConfirmation && w.profile.PendingAction != "":
		res.Metadata[resultContext] = map[string]any{
			dialog.PendingActionKey: w.profile.PendingAction,
			"request":               msg.Content,
		}
	}
	return res, nil
}

func extractHandoff(content string) (string, bool) {
	out := content
	for _, m := range []string{handoffMarker, strings.ToUpper(handoffMarker), "[Handoff]"} {
		out = strings.ReplaceAll(out, m, "")
	}
	if out == content {
		return content, false
	}
	return strings.TrimSpace(out), true
}

func isAffirmation(content string) bool {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(content), ".!,"))
	for _, a := range affirmations {
		if word == a || strings.HasPrefix(word, a+" ") || strings.HasPrefix(word, a+",") {
			return true
		}
	}
	return false
}
