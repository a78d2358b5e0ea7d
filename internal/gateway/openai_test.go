package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newSSEServer(t *testing.T, fragments []string, captured *[]map[string]any) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}

		if captured != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request body: %v", err)
			}
			*captured = append(*captured, body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, fragment := range fragments {
			chunk := map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion.chunk",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]any{"content": fragment}},
				},
			}
			payload, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestOpenAIGatewayStreamsFragmentsInOrder(t *testing.T) {
	var requests []map[string]any
	server := newSSEServer(t, []string{"Hello", " there"}, &requests)
	defer server.Close()

	gw := NewOpenAIGateway("test-key", server.URL, "test-model", nil)
	stream, err := gw.StartStream(context.Background(), Request{
		SystemInstruction: "be kind",
		History: []Entry{
			{Role: RoleUser, Text: "hi"},
			{Role: RoleAssistant, Text: "hello"},
		},
		Prompt: "how are you?",
	})
	if err != nil {
		t.Fatalf("start stream: %v", err)
	}
	defer stream.Close()

	var got []string
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next fragment: %v", err)
		}
		got = append(got, fragment)
	}

	if strings.Join(got, "|") != "Hello| there" {
		t.Fatalf("unexpected fragments %q", got)
	}

	if len(requests) != 1 {
		t.Fatalf("expected one upstream request, got %d", len(requests))
	}
	messages, ok := requests[0]["messages"].([]any)
	if !ok || len(messages) != 4 {
		t.Fatalf("expected system + 2 history + prompt messages, got %v", requests[0]["messages"])
	}
	roles := make([]string, 0, len(messages))
	for _, raw := range messages {
		roles = append(roles, raw.(map[string]any)["role"].(string))
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Fatalf("unexpected role order %v", roles)
	}
	if requests[0]["stream"] != true {
		t.Fatalf("expected stream flag in request")
	}
}

func TestOpenAIGatewayReportsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"auth","code":"bad_key"}}`)
	}))
	defer server.Close()

	gw := NewOpenAIGateway("bad-key", server.URL, "test-model", nil)
	_, err := gw.StartStream(context.Background(), Request{Prompt: "hello"})
	if err == nil {
		t.Fatalf("expected error from provider")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestStartStreamRejectsEmptyPrompt(t *testing.T) {
	gw := NewOpenAIGateway("key", "http://127.0.0.1:1", "m", nil)
	if _, err := gw.StartStream(context.Background(), Request{Prompt: "   "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}
