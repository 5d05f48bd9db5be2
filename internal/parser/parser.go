// Package parser turns unstructured text into structured event fields using
// a chat-completion model.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"eventra/internal/store"
)

// ErrorKind classifies an extraction failure.
type ErrorKind string

const (
	KindMalformedResponse ErrorKind = "malformed-response"
	KindMissingField      ErrorKind = "missing-field"
	KindProviderError     ErrorKind = "provider-error"
	KindTimeout           ErrorKind = "timeout"
	KindRateLimited       ErrorKind = "rate-limited"
	KindAuthError         ErrorKind = "auth-error"
	KindOther             ErrorKind = "other"
)

// ExtractionError reports why a parse attempt failed.
type ExtractionError struct {
	Kind    ErrorKind
	Message string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s): %s", e.Kind, e.Message)
}

// Config holds the provider settings. It is passed explicitly at
// construction; there is no ambient default.
type Config struct {
	Provider string // e.g. "openai"
	Model    string // e.g. "gpt-4"
	APIKey   string
	BaseURL  string // optional override, mainly for tests
}

// Parsed is the structured result of one extraction.
type Parsed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"` // ISO-8601 local-naive
	End         string `json:"end"`
	GuestEmails string `json:"guest_emails"`
}

// Parser extracts event fields from free text and logs every attempt.
type Parser struct {
	client *openai.Client
	config Config
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a parser. store may be nil, in which case attempts are not
// logged.
func New(config Config, st *store.Store, logger *slog.Logger) *Parser {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &Parser{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

const systemPrompt = "You are a helpful assistant that parses text into structured calendar events. Always return valid JSON."

func (p *Parser) prompt(text string) string {
	today := p.now()
	return fmt.Sprintf(`Parse the following text into a calendar event. Extract:
- title: Event title/summary
- description: If the text contains a URL/link (http:// or https://), put that link in the description. Otherwise, leave description as an empty string.
- location: Event location (if available)
- start: Start date and time in ISO 8601 format (YYYY-MM-DDTHH:MM:SS)
- end: End date and time in ISO 8601 format (YYYY-MM-DDTHH:MM:SS)
- guest_emails: If the text contains email addresses, extract them as a comma-separated string. If no emails are found, use an empty string.

IMPORTANT RULES:
1. If no date is specified, use TODAY'S DATE (%s, which is %s).
2. If a time is specified but no date, assume the date is today.
3. If no time is specified, assume a 1-hour duration starting at a reasonable time.
4. If the text contains any URLs/links, include them in the description field.
5. If no description content exists (no links), description should be an empty string "".

Text to parse:
%s

Return ONLY a valid JSON object with these exact fields:
{
    "title": "...",
    "description": "...",
    "location": "...",
    "start": "YYYY-MM-DDTHH:MM:SS",
    "end": "YYYY-MM-DDTHH:MM:SS",
    "guest_emails": "..."
}`, today.Format("January 02, 2006"), today.Format("2006-01-02"), text)
}

// Parse extracts structured event fields from the text. Every attempt,
// successful or not, is appended to the parse log; log failures are
// swallowed so they can never affect the outcome.
func (p *Parser) Parse(ctx context.Context, user, text string) (*Parsed, error) {
	start := p.now()
	parsed, err := p.parse(ctx, text)
	elapsed := float64(p.now().Sub(start)) / float64(time.Millisecond)

	attempt := store.ParseAttempt{
		User:        user,
		InputLength: len(text),
		Provider:    p.config.Provider,
		Model:       p.config.Model,
		Success:     err == nil,
		ElapsedMS:   elapsed,
	}
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		attempt.ErrorKind = string(extractionErr.Kind)
		attempt.ErrorMessage = extractionErr.Message
	}
	if p.store != nil {
		if logErr := p.store.AppendParseLog(attempt); logErr != nil {
			p.logger.Warn("Failed to append parse log.", "error", logErr)
		}
	}
	return parsed, err
}

func (p *Parser) parse(ctx context.Context, text string) (*Parsed, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: p.prompt(text)},
		},
	})
	if err != nil {
		return nil, &ExtractionError{Kind: classifyAPIError(err), Message: err.Error()}
	}
	if len(resp.Choices) == 0 {
		return nil, &ExtractionError{Kind: KindMalformedResponse, Message: "response contained no choices"}
	}

	content := stripCodeFences(strings.TrimSpace(resp.Choices[0].Message.Content))

	var parsed Parsed
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, &ExtractionError{Kind: KindMalformedResponse, Message: fmt.Sprintf("decode response JSON: %v", err)}
	}

	for field, value := range map[string]string{"title": parsed.Title, "start": parsed.Start, "end": parsed.End} {
		if value == "" {
			return nil, &ExtractionError{Kind: KindMissingField, Message: "missing required field: " + field}
		}
	}
	return &parsed, nil
}

// stripCodeFences removes a surrounding markdown code block, which some
// models emit despite being told not to.
func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 3 {
		return content
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

func classifyAPIError(err error) ErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuthError
		case http.StatusTooManyRequests:
			return KindRateLimited
		}
		return KindProviderError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindOther
}
