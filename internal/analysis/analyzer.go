// Package analysis scores completed calls: customer satisfaction,
// sentiment, topical categories, and resolution state.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voicebridge-ai/voicebridge/internal/call"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/llm"
	"github.com/voicebridge-ai/voicebridge/pkg/logging"
)

const analyzeTimeout = 30 * time.Second

// Analyzer derives a post-call Analysis from the transcript. Analysis
// never blocks or fails a call: every failure path degrades to the
// deterministic default result.
type Analyzer struct {
	client llm.Client
	model  string
	logger *logging.Logger
}

// Config wires the analyzer.
type Config struct {
	Client llm.Client
	Model  string
	Logger *logging.Logger
}

// New creates an Analyzer. A nil client means every call gets the
// default analysis.
func New(cfg Config) *Analyzer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Analyzer{client: cfg.Client, model: cfg.Model, logger: logger}
}

// Analyze scores the transcript. It always returns a usable Analysis;
// the error return exists only for logging.
func (a *Analyzer) Analyze(ctx context.Context, transcript []call.Turn) call.Analysis {
	result := defaultAnalysis()
	// Keyword categories are independent of the LLM and always applied.
	result.Categories = detectCategories(transcript)
	result.Transferred = detectTransfer(transcript)

	if a.client == nil || len(transcript) == 0 {
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	var sb strings.Builder
	for _, turn := range transcript {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
	}

	resp, err := a.client.Complete(ctx, llm.Request{
		Model:       a.model,
		System:      []string{analysisSystemPrompt},
		Messages:    []llm.ChatMessage{{Role: llm.ChatRoleUser, Content: analysisPrompt(sb.String())}},
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		a.logger.Warn("analysis: llm scoring failed, using defaults", "error", err)
		return result
	}

	scored, ok := parseAnalysisJSON(resp.Text)
	if !ok {
		a.logger.Warn("analysis: unparseable llm output, using defaults")
		return result
	}

	result.Rating = clampRating(scored.Rating)
	if validSentiment(scored.Sentiment) {
		result.Sentiment = scored.Sentiment
	}
	result.Resolved = scored.Resolved
	return result
}

type scoredAnalysis struct {
	Rating    int    `json:"rating"`
	Sentiment string `json:"sentiment"`
	Resolved  bool   `json:"resolved"`
}

func parseAnalysisJSON(text string) (scoredAnalysis, bool) {
	// The model may wrap JSON in markdown fences; take the outermost braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return scoredAnalysis{}, false
	}
	var out scoredAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return scoredAnalysis{}, false
	}
	return out, true
}

func clampRating(rating int) int {
	if rating < 1 {
		return 1
	}
	if rating > 10 {
		return 10
	}
	return rating
}

func validSentiment(s string) bool {
	switch s {
	case "positive", "neutral", "negative":
		return true
	}
	return false
}

func defaultAnalysis() call.Analysis {
	return call.Analysis{
		Rating:     5,
		Sentiment:  "neutral",
		Categories: []string{"general"},
		Resolved:   false,
	}
}

// categoryKeywords maps topical categories to the caller phrases that
// signal them. Matching is substring, case-insensitive, user turns only.
var categoryKeywords = map[string][]string{
	"scheduling": {"appointment", "schedule", "reschedule", "book", "booking", "cancel my"},
	"billing":    {"invoice", "bill", "charge", "refund", "payment", "price", "cost"},
	"support":    {"not working", "broken", "issue", "problem", "help me", "error"},
	"complaint":  {"complaint", "unacceptable", "terrible", "manager", "frustrated", "angry"},
}

func detectCategories(transcript []call.Turn) []string {
	found := map[string]bool{}
	for _, turn := range transcript {
		if turn.Role != call.RoleUser {
			continue
		}
		content := strings.ToLower(turn.Content)
		for category, keywords := range categoryKeywords {
			if found[category] {
				continue
			}
			for _, kw := range keywords {
				if strings.Contains(content, kw) {
					found[category] = true
					break
				}
			}
		}
	}
	if len(found) == 0 {
		return []string{"general"}
	}
	// Stable order for storage and assertions.
	var out []string
	for _, category := range []string{"billing", "complaint", "scheduling", "support"} {
		if found[category] {
			out = append(out, category)
		}
	}
	return out
}

var transferPhrases = []string{
	"transfer you",
	"connect you with",
	"someone will call you back",
	"a team member will reach out",
}

func detectTransfer(transcript []call.Turn) bool {
	for _, turn := range transcript {
		if turn.Role != call.RoleAssistant {
			continue
		}
		content := strings.ToLower(turn.Content)
		for _, phrase := range transferPhrases {
			if strings.Contains(content, phrase) {
				return true
			}
		}
	}
	return false
}

const analysisSystemPrompt = `You score completed customer service phone calls. Be precise and conservative. Return only JSON.`

func analysisPrompt(transcript string) string {
	return fmt.Sprintf(`Score this completed phone call. Return ONLY a JSON object with these fields:

{
  "rating": 1-10 integer for overall customer satisfaction,
  "sentiment": "positive" | "neutral" | "negative",
  "resolved": true if the customer's need was fully handled on this call
}

Transcript:
%s`, transcript)
}
