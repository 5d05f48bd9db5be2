// Package google wraps the Google Calendar API for the primary calendar of
// one connected account.
package google

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"eventra/internal/auth"
	"eventra/internal/models"
)

const (
	// maxListResults caps a single list call, matching the API default.
	maxListResults = 250

	// requestTimeout bounds every remote call so a hung transport fails
	// fast instead of blocking the caller.
	requestTimeout = 5 * time.Second
)

// RemoteError wraps any failure talking to the remote calendar: transport,
// authorization, or a malformed response.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("google calendar %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Client talks to the Google Calendar API on behalf of one user.
type Client struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient builds an authenticated client from a stored credential bundle.
func NewClient(ctx context.Context, logger *slog.Logger, bundle *auth.Bundle) (*Client, error) {
	source := oauth2.StaticTokenSource(bundle.Token())
	service, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Client{service: service, logger: logger}, nil
}

// CreateEvent creates an event on the primary calendar. Color and attendees
// pass through unchanged when present.
func (c *Client) CreateEvent(ctx context.Context, ev *models.Event) (*models.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	created, err := c.service.Events.Insert("primary", toAPIEvent(ev)).Context(ctx).Do()
	if err != nil {
		return nil, &RemoteError{Op: "create", Err: err}
	}
	c.logger.Info("Created remote event.", "remoteID", created.Id, "title", ev.Title)

	out, ok := fromAPIEvent(created)
	if !ok {
		return nil, &RemoteError{Op: "create", Err: fmt.Errorf("malformed response for event %s", created.Id)}
	}
	return &out, nil
}

// UpdateEvent applies a partial update: the current remote state is fetched,
// the supplied fields overlaid, and the result written back. Remote fields
// not covered by the local record are left untouched.
func (c *Client) UpdateEvent(ctx context.Context, remoteID string, ev *models.Event) (*models.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	current, err := c.service.Events.Get("primary", remoteID).Context(ctx).Do()
	if err != nil {
		return nil, &RemoteError{Op: "update", Err: err}
	}

	current.Summary = ev.Title
	current.Description = ev.Description
	current.Location = ev.Location
	current.Start = apiDateTime(ev.Start)
	current.End = apiDateTime(ev.End)
	if ev.ColorID != "" {
		current.ColorId = ev.ColorID
	}
	if attendees := ev.Attendees(); attendees != nil {
		current.Attendees = apiAttendees(attendees)
	}

	updated, err := c.service.Events.Update("primary", remoteID, current).Context(ctx).Do()
	if err != nil {
		return nil, &RemoteError{Op: "update", Err: err}
	}
	c.logger.Info("Updated remote event.", "remoteID", remoteID, "title", ev.Title)

	out, ok := fromAPIEvent(updated)
	if !ok {
		return nil, &RemoteError{Op: "update", Err: fmt.Errorf("malformed response for event %s", remoteID)}
	}
	return &out, nil
}

// DeleteEvent removes an event from the primary calendar.
func (c *Client) DeleteEvent(ctx context.Context, remoteID string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.service.Events.Delete("primary", remoteID).Context(ctx).Do(); err != nil {
		return &RemoteError{Op: "delete", Err: err}
	}
	c.logger.Info("Deleted remote event.", "remoteID", remoteID)
	return nil
}

// ListEvents returns events intersecting [timeMin, timeMax), ordered by
// start time, with recurring series expanded to single occurrences. Events
// whose timestamps cannot be placed on the timeline are skipped.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result, err := c.service.Events.List("primary").
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(rfc3339UTC(timeMin)).
		TimeMax(rfc3339UTC(timeMax)).
		MaxResults(maxListResults).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, &RemoteError{Op: "list", Err: err}
	}

	var events []models.RemoteEvent
	for _, item := range result.Items {
		ev, ok := fromAPIEvent(item)
		if !ok {
			c.logger.Debug("Skipping remote event without usable timestamps.", "remoteID", item.Id)
			continue
		}
		events = append(events, ev)
	}
	c.logger.Info("Fetched events from Google Calendar.", "count", len(events))
	return events, nil
}

// rfc3339UTC normalizes an instant to UTC and truncates it to whole seconds
// before transmission.
func rfc3339UTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

func apiDateTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{
		DateTime: t.UTC().Truncate(time.Second).Format(time.RFC3339),
		TimeZone: "UTC",
	}
}

func apiAttendees(emails []string) []*calendar.EventAttendee {
	out := make([]*calendar.EventAttendee, 0, len(emails))
	for _, email := range emails {
		out = append(out, &calendar.EventAttendee{Email: email})
	}
	return out
}

func toAPIEvent(ev *models.Event) *calendar.Event {
	body := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       apiDateTime(ev.Start),
		End:         apiDateTime(ev.End),
	}
	if ev.ColorID != "" {
		body.ColorId = ev.ColorID
	}
	if attendees := ev.Attendees(); attendees != nil {
		body.Attendees = apiAttendees(attendees)
	}
	return body
}

// fromAPIEvent converts a raw API event to the internal snapshot. All-day
// events (date only) span [00:00:00, 23:59:59] on the local day. Events
// missing both dateTime and date, or with unparseable timestamps, report
// ok=false and are skipped by the caller.
func fromAPIEvent(item *calendar.Event) (models.RemoteEvent, bool) {
	start, ok := parseEventTime(item.Start, "T00:00:00")
	if !ok {
		return models.RemoteEvent{}, false
	}
	end, ok := parseEventTime(item.End, "T23:59:59")
	if !ok {
		return models.RemoteEvent{}, false
	}

	var attendees []string
	for _, a := range item.Attendees {
		attendees = append(attendees, a.Email)
	}

	return models.RemoteEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start,
		End:         end,
		ColorID:     item.ColorId,
		Attendees:   attendees,
	}, true
}

func parseEventTime(edt *calendar.EventDateTime, daySuffix string) (time.Time, bool) {
	switch {
	case edt == nil:
		return time.Time{}, false
	case edt.DateTime != "":
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case edt.Date != "":
		t, err := time.ParseInLocation("2006-01-02T15:04:05", edt.Date+daySuffix, time.Local)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// NewOAuthConfig returns the OAuth2 config for the authorization-code flow
// with full read/write access to the primary calendar.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{calendar.CalendarScope},
		Endpoint:     googleoauth.Endpoint,
	}
}

// Exchange trades an authorization code for a stored credential bundle.
func Exchange(ctx context.Context, cfg *oauth2.Config, code string) (*auth.Bundle, error) {
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return &auth.Bundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenURI:     cfg.Endpoint.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Expiry:       token.Expiry,
	}, nil
}
