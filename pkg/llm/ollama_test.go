package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func streamServer(t *testing.T, lines []string, check func(generateRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
}

func TestGenerateAccumulatesChunks(t *testing.T) {
	srv := streamServer(t, []string{
		`{"response":"Hello","done":false}`,
		`{"response":", world","done":false}`,
		`{"response":"!","done":true}`,
	}, func(req generateRequest) {
		if !req.Stream {
			t.Error("stream flag not set")
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if req.Options["num_predict"] != float64(-1) {
			t.Errorf("unexpected num_predict %v", req.Options["num_predict"])
		}
	})
	defer srv.Close()

	c, err := New(srv.URL, "test-model", Options{Temperature: 0.7, TopP: 0.9, TopK: 40})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var chunks []string
	got, err := c.Generate(context.Background(), "say hello", func(s string) {
		chunks = append(chunks, s)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Hello, world!" {
		t.Fatalf("unexpected accumulated text %q", got)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestGenerateSkipsMalformedLines(t *testing.T) {
	srv := streamServer(t, []string{
		`{"response":"ok","done":false}`,
		`this is not json`,
		`{"response":" fine","done":true}`,
	}, nil)
	defer srv.Close()

	c, _ := New(srv.URL, "test-model", Options{})
	got, err := c.Generate(context.Background(), "p", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ok fine" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestGenerateAbortsOnErrorEvent(t *testing.T) {
	srv := streamServer(t, []string{
		`{"response":"partial","done":false}`,
		`{"error":"model exploded","done":false}`,
		`{"response":"never seen","done":true}`,
	}, nil)
	defer srv.Close()

	c, _ := New(srv.URL, "test-model", Options{})
	got, err := c.Generate(context.Background(), "p", nil)
	if err == nil {
		t.Fatal("expected error from error event")
	}
	if !strings.Contains(err.Error(), "model exploded") {
		t.Fatalf("error should carry server message, got %v", err)
	}
	if got != "partial" {
		t.Fatalf("expected partial text preserved, got %q", got)
	}
}

func TestGenerateNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "missing-model", Options{})
	if _, err := c.Generate(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New("http://localhost:11434", "  ", Options{}); err == nil {
		t.Fatal("expected error for blank model")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, "m", Options{})
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	srv.Close()
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error after server shutdown")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                        "http://localhost:11434",
		"localhost:11434":         "http://localhost:11434",
		"http://host:1/":          "http://host:1",
		"https://ollama.internal": "https://ollama.internal",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
