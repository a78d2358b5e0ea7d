package gateway

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestGeminiHistoryMapsAssistantToModelRole(t *testing.T) {
	history := geminiHistory([]Entry{
		{Role: RoleUser, Text: "I feel anxious today."},
		{Role: RoleAssistant, Text: "I hear you."},
	})

	if len(history) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("unexpected roles %s, %s", history[0].Role, history[1].Role)
	}
	if text, ok := history[1].Parts[0].(genai.Text); !ok || string(text) != "I hear you." {
		t.Fatalf("unexpected assistant part %v", history[1].Parts[0])
	}
}

func TestGeminiHistoryDropsTurnsWithEmptyReply(t *testing.T) {
	history := geminiHistory([]Entry{
		{Role: RoleUser, Text: "hello?"},
		{Role: RoleAssistant, Text: ""},
		{Role: RoleUser, Text: "I feel anxious today."},
		{Role: RoleAssistant, Text: "I hear you."},
	})

	if len(history) != 2 {
		t.Fatalf("expected the empty turn to be dropped, got %d contents", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("roles must alternate, got %s, %s", history[0].Role, history[1].Role)
	}
	for _, content := range history {
		for _, part := range content.Parts {
			if text, ok := part.(genai.Text); !ok || text == "" {
				t.Fatalf("unexpected empty part in %+v", content)
			}
		}
	}
	if text, _ := history[0].Parts[0].(genai.Text); string(text) != "I feel anxious today." {
		t.Fatalf("unexpected first content %q", text)
	}
}

func TestGeminiTextConcatenatesTextParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("I hear"), genai.Text(" you.")}}},
		},
	}

	if got := geminiText(resp); got != "I hear you." {
		t.Fatalf("expected concatenated text, got %q", got)
	}
	if got := geminiText(&genai.GenerateContentResponse{}); got != "" {
		t.Fatalf("expected empty text for empty response, got %q", got)
	}
	if got := geminiText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}); got != "" {
		t.Fatalf("expected empty text for candidate without content, got %q", got)
	}
}
