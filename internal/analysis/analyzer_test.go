package analysis

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/voicebridge-ai/voicebridge/internal/call"
	"github.com/voicebridge-ai/voicebridge/internal/gateway/llm"
)

type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text}, nil
}

func userTurn(content string) call.Turn {
	return call.Turn{Role: call.RoleUser, Content: content}
}

func assistantTurn(content string) call.Turn {
	return call.Turn{Role: call.RoleAssistant, Content: content}
}

func TestAnalyzeParsesLLMOutput(t *testing.T) {
	analyzer := New(Config{
		Client: &fakeLLM{text: "Here is the score:\n```json\n{\"rating\": 9, \"sentiment\": \"positive\", \"resolved\": true}\n```"},
		Model:  "gpt-4o-mini",
	})

	got := analyzer.Analyze(context.Background(), []call.Turn{
		userTurn("I'd like to reschedule my appointment"),
		assistantTurn("Done, see you Thursday."),
	})
	if got.Rating != 9 {
		t.Errorf("Rating: got %d, want 9", got.Rating)
	}
	if got.Sentiment != "positive" {
		t.Errorf("Sentiment: got %q", got.Sentiment)
	}
	if !got.Resolved {
		t.Error("Resolved: got false, want true")
	}
	if !reflect.DeepEqual(got.Categories, []string{"scheduling"}) {
		t.Errorf("Categories: got %v", got.Categories)
	}
}

func TestAnalyzeFallsBackOnLLMError(t *testing.T) {
	analyzer := New(Config{Client: &fakeLLM{err: errors.New("timeout")}})

	got := analyzer.Analyze(context.Background(), []call.Turn{userTurn("hello")})
	want := call.Analysis{Rating: 5, Sentiment: "neutral", Categories: []string{"general"}, Resolved: false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fallback analysis: got %+v, want %+v", got, want)
	}
}

func TestAnalyzeFallsBackOnGarbageOutput(t *testing.T) {
	for _, text := range []string{"", "I cannot score this call.", "{not json}", "}{"} {
		analyzer := New(Config{Client: &fakeLLM{text: text}})
		got := analyzer.Analyze(context.Background(), []call.Turn{userTurn("hello")})
		if got.Rating != 5 || got.Sentiment != "neutral" || got.Resolved {
			t.Errorf("output %q: expected default analysis, got %+v", text, got)
		}
	}
}

func TestAnalyzeClampsRating(t *testing.T) {
	cases := []struct {
		raw  int
		want int
	}{
		{0, 1},
		{-5, 1},
		{11, 10},
		{100, 10},
		{7, 7},
	}
	for _, tc := range cases {
		analyzer := New(Config{
			Client: &fakeLLM{text: fmt.Sprintf(`{"rating": %d, "sentiment": "neutral", "resolved": false}`, tc.raw)},
		})
		got := analyzer.Analyze(context.Background(), []call.Turn{userTurn("hello")})
		if got.Rating != tc.want {
			t.Errorf("raw rating %d: got %d, want %d", tc.raw, got.Rating, tc.want)
		}
	}
}

func TestAnalyzeRejectsUnknownSentiment(t *testing.T) {
	analyzer := New(Config{
		Client: &fakeLLM{text: `{"rating": 6, "sentiment": "ecstatic", "resolved": true}`},
	})
	got := analyzer.Analyze(context.Background(), []call.Turn{userTurn("hello")})
	if got.Sentiment != "neutral" {
		t.Errorf("Sentiment: got %q, want neutral", got.Sentiment)
	}
	if got.Rating != 6 {
		t.Errorf("Rating: got %d, want 6", got.Rating)
	}
}

func TestAnalyzeNilClient(t *testing.T) {
	analyzer := New(Config{})
	got := analyzer.Analyze(context.Background(), []call.Turn{userTurn("my bill is wrong")})
	if got.Rating != 5 {
		t.Errorf("Rating: got %d, want 5", got.Rating)
	}
	if !reflect.DeepEqual(got.Categories, []string{"billing"}) {
		t.Errorf("Categories: got %v", got.Categories)
	}
}

func TestDetectCategories(t *testing.T) {
	cases := []struct {
		name       string
		transcript []call.Turn
		want       []string
	}{
		{
			name:       "no keywords",
			transcript: []call.Turn{userTurn("hello there")},
			want:       []string{"general"},
		},
		{
			name: "multiple categories sorted",
			transcript: []call.Turn{
				userTurn("I want to schedule an appointment"),
				userTurn("also my invoice looks wrong"),
			},
			want: []string{"billing", "scheduling"},
		},
		{
			name:       "assistant turns ignored",
			transcript: []call.Turn{assistantTurn("would you like to book an appointment?")},
			want:       []string{"general"},
		},
		{
			name:       "case insensitive",
			transcript: []call.Turn{userTurn("I NEED A REFUND")},
			want:       []string{"billing"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectCategories(tc.transcript); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDetectTransfer(t *testing.T) {
	if detectTransfer([]call.Turn{assistantTurn("Let me help you with that.")}) {
		t.Error("expected no transfer")
	}
	if !detectTransfer([]call.Turn{assistantTurn("I'll transfer you to a specialist now.")}) {
		t.Error("expected transfer detected")
	}
	// Caller saying it does not count.
	if detectTransfer([]call.Turn{userTurn("can you transfer you")}) {
		t.Error("user turns must not trigger transfer detection")
	}
}
