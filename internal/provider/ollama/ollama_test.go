package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmgateway/gateway/internal/domain"
)

func TestAdapter_Invoke(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if captured.Stream {
			t.Error("Stream = true, want false for non-streaming Invoke")
		}
		json.NewEncoder(w).Encode(chatResponse{
			Message:         wireMessage{Role: "assistant", Content: "hi"},
			Done:            true,
			PromptEvalCount: 3,
			EvalCount:       2,
		})
	}))
	defer server.Close()

	a := New()
	p := domain.Provider{Name: "ollama", BaseURL: server.URL}
	m := domain.Model{ProviderName: "ollama", Name: "llama3", RemoteIdentifier: "llama3:8b"}
	req := domain.NormalizedRequest{Prompt: "hello"}

	resp, err := a.Invoke(context.Background(), p, m, req)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.OutputText != "hi" {
		t.Errorf("OutputText = %q, want hi", resp.OutputText)
	}
	if *resp.Usage.TotalTokens != 5 {
		t.Errorf("TotalTokens = %d, want 5", *resp.Usage.TotalTokens)
	}
	if captured.Model != "llama3:8b" {
		t.Errorf("Model = %q, want remote identifier", captured.Model)
	}
}

func TestAdapter_InvokeStream_NewlineDelimitedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		writer := bufio.NewWriter(w)
		chunks := []chatChunk{
			{Message: wireMessage{Content: "hel"}},
			{Message: wireMessage{Content: "lo"}},
			{Done: true, PromptEvalCount: 1, EvalCount: 1},
		}
		for _, c := range chunks {
			b, _ := json.Marshal(c)
			writer.Write(b)
			writer.WriteString("\n")
			writer.Flush()
			flusher.Flush()
		}
	}))
	defer server.Close()

	a := New()
	p := domain.Provider{Name: "ollama", BaseURL: server.URL}
	m := domain.Model{ProviderName: "ollama", Name: "llama3"}

	deltas, errs := a.InvokeStream(context.Background(), p, m, domain.NormalizedRequest{Prompt: "hi", Stream: true})

	var text string
	var done bool
	for d := range deltas {
		text += d.TextDelta
		if d.Done {
			done = true
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if !done {
		t.Error("expected a Done delta")
	}
	if text != "hello" {
		t.Errorf("accumulated text = %q, want hello", text)
	}
}

func TestToWireRequest_OmitsOptionsWhenNoParams(t *testing.T) {
	wire := toWireRequest(domain.Model{}, domain.Credential{}, domain.NormalizedRequest{Prompt: "hi"}, false)
	if wire.Options != nil {
		t.Errorf("Options = %+v, want nil when no parameters set", wire.Options)
	}
}
