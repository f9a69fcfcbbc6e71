package llmengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaInvokerAccumulatesStreamedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []string{
			`{"message":{"role":"assistant","content":"Hello"},"done":false}` + "\n",
			`{"message":{"role":"assistant","content":" world"},"done":false}` + "\n",
			`{"message":{"role":"assistant","content":""},"done":true}` + "\n",
		}
		for _, c := range chunks {
			w.Write([]byte(c))
		}
	}))
	defer srv.Close()

	inv := NewOllamaInvoker(srv.URL, 512, 4)
	result, err := inv.Invoke(context.Background(), "system", "user prompt", "llama3.1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "Hello world" {
		t.Fatalf("expected accumulated chunks, got %q", result.Text)
	}
}

func TestOllamaInvokerStopsAtDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"partial"},"done":true}` + "\n"))
		w.Write([]byte(`{"message":{"content":"should not appear"},"done":false}` + "\n"))
	}))
	defer srv.Close()

	inv := NewOllamaInvoker(srv.URL, 512, 4)
	result, err := inv.Invoke(context.Background(), "system", "user", "llama3.1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result.Text, "should not appear") {
		t.Fatalf("expected stream consumption to stop at done=true, got %q", result.Text)
	}
}

func TestOllamaInvokerNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	inv := NewOllamaInvoker(srv.URL, 512, 4)
	_, err := inv.Invoke(context.Background(), "system", "user", "llama3.1", "")
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
