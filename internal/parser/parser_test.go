package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"eventra/internal/store"
)

// chatServer serves the chat-completions endpoint, returning content as the
// single choice's message.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestParser(t *testing.T, baseURL string) (*Parser, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "eventra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(Config{Provider: "openai", Model: "gpt-4", APIKey: "test-key", BaseURL: baseURL}, st, logger)
	return p, st
}

const validJSON = `{
	"title": "Dinner with Roberto",
	"description": "https://example.com/menu",
	"location": "Downtown",
	"start": "2025-06-01T19:00:00",
	"end": "2025-06-01T21:00:00",
	"guest_emails": "roberto@example.com"
}`

func TestParseExtractsFields(t *testing.T) {
	server := chatServer(t, validJSON)
	defer server.Close()

	p, st := newTestParser(t, server.URL)
	parsed, err := p.Parse(context.Background(), "alice", "dinner with Roberto tomorrow at 7pm downtown")
	require.NoError(t, err)
	require.Equal(t, "Dinner with Roberto", parsed.Title)
	require.Equal(t, "https://example.com/menu", parsed.Description)
	require.Equal(t, "2025-06-01T19:00:00", parsed.Start)
	require.Equal(t, "roberto@example.com", parsed.GuestEmails)

	stats, err := st.ParseLogStats(7)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Successful)
}

func TestParseStripsCodeFences(t *testing.T) {
	server := chatServer(t, "```json\n"+validJSON+"\n```")
	defer server.Close()

	p, _ := newTestParser(t, server.URL)
	parsed, err := p.Parse(context.Background(), "alice", "dinner tomorrow")
	require.NoError(t, err)
	require.Equal(t, "Dinner with Roberto", parsed.Title)
}

func TestParseMissingRequiredField(t *testing.T) {
	server := chatServer(t, `{"title":"Dinner","description":"","location":"","start":"","end":"","guest_emails":""}`)
	defer server.Close()

	p, st := newTestParser(t, server.URL)
	_, err := p.Parse(context.Background(), "alice", "dinner")
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	require.Equal(t, KindMissingField, extractionErr.Kind)

	stats, err := st.ParseLogStats(7)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 0, stats.Successful)
	require.Equal(t, 1, stats.ErrorBreakdown[string(KindMissingField)])
}

func TestParseMalformedResponse(t *testing.T) {
	server := chatServer(t, "Sure! The event is a dinner at 7pm.")
	defer server.Close()

	p, _ := newTestParser(t, server.URL)
	_, err := p.Parse(context.Background(), "alice", "dinner")
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	require.Equal(t, KindMalformedResponse, extractionErr.Kind)
}

func TestParseClassifiesHTTPErrors(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuthError},
		{http.StatusForbidden, KindAuthError},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindProviderError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status %d", tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				io.WriteString(w, `{"error":{"message":"nope","type":"test"}}`)
			}))
			defer server.Close()

			p, _ := newTestParser(t, server.URL)
			_, err := p.Parse(context.Background(), "alice", "dinner")
			var extractionErr *ExtractionError
			require.ErrorAs(t, err, &extractionErr)
			require.Equal(t, tc.want, extractionErr.Kind)
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFences("```\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFences(`{"a":1}`))
}
