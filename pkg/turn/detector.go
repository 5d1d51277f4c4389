package turn

import (
	"context"

	"github.com/chriscow/voiceagent-server/pkg/ai/llm"
)

// Detector interface for end-of-utterance (EOU) detection.
// Provides language-aware turn detection that matches the accuracy
// of the Python turn_detector.multilingual plugin.
type Detector interface {
	// UnlikelyThreshold returns the language-specific threshold for EOU detection.
	// Returns the threshold value (0-1) or an error if language is unsupported.
	UnlikelyThreshold(language string) (float64, error)

	// SupportsLanguage returns true if the detector has a tuned threshold for this language.
	SupportsLanguage(language string) bool

	// PredictEndOfTurn returns probability (0–1) that the user has finished speaking
	// given recent chat context. Higher values indicate higher likelihood of turn completion.
	PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error)
}

// ChatContext represents the conversation history needed for turn detection.
// This extends the base LLM chat context with turn detection specific data.
type ChatContext struct {
	Messages []llm.Message
	Language string // Language hint for detection optimization
}

// Truncate keeps at most maxTokens worth of trailing context, dropping the
// oldest messages first, and merges adjacent messages that share a role so a
// split turn (e.g. two consecutive user messages from partial transcripts)
// counts as one. Token count is approximated by whitespace-delimited word
// count; ONNXDetector performs the precise model-tokenizer truncation
// independently before inference.
func (c *ChatContext) Truncate(maxTokens int) {
	if maxTokens <= 0 || len(c.Messages) == 0 {
		return
	}

	merged := make([]llm.Message, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if n := len(merged); n > 0 && merged[n-1].Role == msg.Role {
			merged[n-1].Content = merged[n-1].Content + " " + msg.Content
			continue
		}
		merged = append(merged, msg)
	}

	total := 0
	cut := len(merged)
	for i := len(merged) - 1; i >= 0; i-- {
		total += wordCount(merged[i].Content)
		if total > maxTokens {
			cut = i + 1
			break
		}
		cut = i
	}

	c.Messages = merged[cut:]
}

func wordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// ZeroDetector is a no-op Detector that always reports zero probability.
// The recognition coordinator does not substitute it for a missing
// detector: with a nil Detector it waits MinDelay, whereas a ZeroDetector
// makes every end-of-utterance decision wait MaxDelay.
type ZeroDetector struct{}

func (ZeroDetector) UnlikelyThreshold(language string) (float64, error) { return 0, nil }

func (ZeroDetector) SupportsLanguage(language string) bool { return true }

func (ZeroDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	return 0, nil
}