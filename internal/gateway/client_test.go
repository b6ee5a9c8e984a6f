package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/tutord/internal/metrics"
)

func userMessages() []Message {
	return []Message{{Role: RoleUser, Content: "hi"}}
}

func TestComplete(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	out, err := c.Complete(context.Background(), userMessages())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Hello!" {
		t.Errorf("content = %q, want Hello!", out)
	}
	if got.Model != defaultChatModel {
		t.Errorf("model = %q, want %q", got.Model, defaultChatModel)
	}
	if got.Stream {
		t.Error("Complete must not request streaming")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	out, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), userMessages())
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}
	if out != "" {
		t.Errorf("content = %q, want empty", out)
	}
}

func TestAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Complete(context.Background(), userMessages()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if want := "Bearer test-key"; gotAuth != want {
		t.Errorf("Authorization = %q, want %q", gotAuth, want)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusPaymentRequired, ErrQuotaExhausted},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), userMessages())
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("other", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "upstream down")
		}))
		defer srv.Close()

		_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), userMessages())
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected *StatusError, got %v", err)
		}
		if se.Status != http.StatusServiceUnavailable || se.Body != "upstream down" {
			t.Errorf("unexpected status error %+v", se)
		}
	})
}

func TestNoRetryOnRateLimit(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), userMessages())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestNotConfigured(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("", srv.URL)
	if c.Configured() {
		t.Error("client without key reports configured")
	}
	if _, err := c.Complete(context.Background(), userMessages()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if attempts.Load() != 0 {
		t.Error("request sent without an API key")
	}
}

func TestGenerateImage(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"","images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA"}}]}}]}`)
	}))
	defer srv.Close()

	url, err := NewClientWithBaseURL("k", srv.URL).GenerateImage(context.Background(), "draw a volcano")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if url != "data:image/png;base64,AAA" {
		t.Errorf("url = %q", url)
	}
	if got.Model != defaultImageModel {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Modalities) != 2 || got.Modalities[0] != "image" || got.Modalities[1] != "text" {
		t.Errorf("modalities = %v", got.Modalities)
	}
}

func TestGenerateImageEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"sorry"}}]}`)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).GenerateImage(context.Background(), "x")
	if !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestStreamAndRelay(t *testing.T) {
	sseData := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		": keep-alive\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
		"data: [DONE]\n\n"

	var gotStream bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotStream = req.Stream
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseData)
	}))
	defer srv.Close()

	rec := metrics.NewRecorder()
	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL, Metrics: rec})
	rc, err := c.Stream(context.Background(), userMessages())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer rc.Close()

	if !gotStream {
		t.Error("stream flag not sent")
	}

	var buf bytes.Buffer
	flushes := 0
	content, err := Relay(&buf, func() { flushes++ }, rc)
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if content != "Hello world" {
		t.Errorf("content = %q", content)
	}
	if !strings.HasPrefix(buf.String(), "data: {") || !strings.Contains(buf.String(), "data: [DONE]") {
		t.Errorf("relayed body = %q", buf.String())
	}
	if flushes == 0 {
		t.Error("flush never called")
	}
	if snap := rec.Snapshot(); len(snap) != 1 || snap[0].Name != "gateway.stream_open" {
		t.Errorf("unexpected metrics %+v", snap)
	}
}

func TestRelayStopsAtDone(t *testing.T) {
	r := strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: [DONE]\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n")
	content, err := Relay(io.Discard, func() {}, r)
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if content != "a" {
		t.Errorf("content = %q, want a", content)
	}
}

func TestParseDelta(t *testing.T) {
	cases := []struct {
		line  string
		delta string
		done  bool
	}{
		{`data: {"choices":[{"delta":{"content":"x"}}]}`, "x", false},
		{"data: [DONE]\n", "", true},
		{": comment", "", false},
		{"data: not-json", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		delta, done := ParseDelta([]byte(tc.line))
		if delta != tc.delta || done != tc.done {
			t.Errorf("ParseDelta(%q) = %q, %v; want %q, %v", tc.line, delta, done, tc.delta, tc.done)
		}
	}
}
