package transformerslocal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
)

func TestAdapter_Invoke_GeneratedTextFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(generateResponse{SummaryText: "condensed"})
	}))
	defer server.Close()

	a := New()
	p := domain.Provider{Name: "transformers", BaseURL: server.URL}
	m := domain.Model{ProviderName: "transformers", Name: "bart-large-cnn"}

	resp, err := a.Invoke(context.Background(), p, m, domain.NormalizedRequest{Prompt: "long text"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.OutputText != "condensed" {
		t.Errorf("OutputText = %q, want fallback to summary_text", resp.OutputText)
	}
}

func TestAdapter_InvokeStream_Unsupported(t *testing.T) {
	a := New()
	deltas, errs := a.InvokeStream(context.Background(), domain.Provider{}, domain.Model{}, domain.NormalizedRequest{})
	if _, ok := <-deltas; ok {
		t.Error("expected deltas channel to be closed immediately")
	}
	if err := <-errs; err != provider.ErrStreamingUnsupported {
		t.Errorf("err = %v, want ErrStreamingUnsupported", err)
	}
}

func TestPromptOf_FormatsMessagesWhenNoPrompt(t *testing.T) {
	req := domain.NormalizedRequest{Messages: []domain.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}}
	got := promptOf(req)
	want := "User: hi\nAssistant: hello"
	if got != want {
		t.Errorf("promptOf() = %q, want %q", got, want)
	}
}

func TestCapitalize_EmptyRoleNoPanic(t *testing.T) {
	if got := capitalize(""); got != "" {
		t.Errorf("capitalize(\"\") = %q, want empty", got)
	}
}
