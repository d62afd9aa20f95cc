package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Model    string          `json:"model"`
			Messages []Message       `json:"messages"`
			Stream   bool            `json:"stream"`
			Format   json.RawMessage `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "llama3.1" || req.Stream {
			t.Errorf("model=%q stream=%v", req.Model, req.Stream)
		}
		if len(req.Format) == 0 {
			t.Error("schema not forwarded as format")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "hola"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Chat(context.Background(), "llama3.1",
		[]Message{{Role: "user", Content: "say hola"}},
		&Schema{Type: "object"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hola" {
		t.Errorf("response = %q", got)
	}
}

func TestEmbedBatch_Alignment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 0}, {0, 1}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), "nomic-embed-text", []string{"hola", "adiós"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors", len(vecs))
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0}}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.EmbedBatch(context.Background(), "nomic-embed-text", []string{"a", "b"}); err == nil {
		t.Fatal("misaligned embedding count accepted")
	}
}

func TestHasModel_MatchesTagSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{
				{"name": "nomic-embed-text:latest"},
				{"name": "llama3.1:8b"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.HasModel(context.Background(), "nomic-embed-text") {
		t.Error("tagged model not matched")
	}
	if !c.HasModel(context.Background(), "llama3.1:8b") {
		t.Error("exact name not matched")
	}
	if c.HasModel(context.Background(), "mistral") {
		t.Error("absent model reported present")
	}
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
	}))
	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("running server reported down")
	}

	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("closed server reported running")
	}
}
