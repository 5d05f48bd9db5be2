package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"eventra/internal/auth"
	"eventra/internal/models"
	"eventra/internal/store"
)

// Status is the terminal state of one mutation.
type Status int

const (
	// Committed means the local write succeeded and, when a remote mirror
	// was attempted, it succeeded too.
	Committed Status = iota
	// CommittedWithSyncWarning means the local write succeeded but the
	// remote mirror failed. The local change is never rolled back.
	CommittedWithSyncWarning
	// Rejected means validation failed before any write.
	Rejected
)

// ErrValidation rejects a mutation whose end does not come after its start.
var ErrValidation = errors.New("end date/time must be after start date/time")

// Result reports the outcome of a mutation. On Rejected updates, Event
// carries the caller's edited values for re-display; the stored record is
// unchanged.
type Result struct {
	Status  Status
	Event   *models.Event
	Warning string
}

// Geocoder resolves a free-text address to coordinates. Implementations
// report ok=false on any failure; a failed lookup never blocks a mutation.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (lat, lng float64, ok bool)
}

// Mutator applies user-initiated create/update/delete to the local store and
// best-effort mirrors each mutation to the remote calendar.
type Mutator struct {
	store     *store.Store
	creds     *auth.CredentialStore
	newClient ClientFactory
	geocoder  Geocoder // optional
	logger    *slog.Logger
}

// NewMutator creates a mutation service. geocoder may be nil.
func NewMutator(st *store.Store, creds *auth.CredentialStore, factory ClientFactory, geocoder Geocoder, logger *slog.Logger) *Mutator {
	return &Mutator{store: st, creds: creds, newClient: factory, geocoder: geocoder, logger: logger}
}

// Create validates and persists a new event, then mirrors it to the remote
// calendar when the user is connected. A remote failure downgrades the
// result to a warning; the local record stays.
func (m *Mutator) Create(ctx context.Context, ev *models.Event) (*Result, error) {
	if !ev.End.After(ev.Start) {
		return &Result{Status: Rejected, Event: ev}, ErrValidation
	}

	ev.Synced = false
	ev.RemoteID = ""
	m.geocode(ctx, ev)
	if err := m.store.CreateEvent(ev); err != nil {
		return nil, err
	}

	client, failed := m.remoteClient(ctx, ev.User)
	if client == nil {
		if failed {
			return &Result{Status: CommittedWithSyncWarning, Event: ev, Warning: "Google Calendar sync failed"}, nil
		}
		return &Result{Status: Committed, Event: ev}, nil
	}

	remote, err := client.CreateEvent(ctx, ev)
	if err != nil {
		m.logger.Warn("Event created locally but remote sync failed.", "title", ev.Title, "error", err)
		return &Result{Status: CommittedWithSyncWarning, Event: ev, Warning: "Google Calendar sync failed"}, nil
	}

	ev.RemoteID = remote.ID
	ev.Synced = true
	if err := m.store.UpdateEvent(ev); err != nil {
		return nil, err
	}
	return &Result{Status: Committed, Event: ev}, nil
}

// Fields carries the editable values of an update.
type Fields struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	ColorID     string
	GuestEmails string
}

// Update validates and applies the edited fields to the stored record, then
// mirrors the change as a partial remote update when the record is synced.
func (m *Mutator) Update(ctx context.Context, user string, id int64, fields Fields) (*Result, error) {
	ev, err := m.store.GetEvent(user, id)
	if err != nil {
		return nil, err
	}

	if !fields.End.After(fields.Start) {
		// Return the edited values for re-display; the record is untouched.
		edited := *ev
		applyFields(&edited, fields)
		return &Result{Status: Rejected, Event: &edited}, ErrValidation
	}

	applyFields(ev, fields)
	m.geocode(ctx, ev)
	if err := m.store.UpdateEvent(ev); err != nil {
		return nil, err
	}

	if !ev.Synced || ev.RemoteID == "" {
		return &Result{Status: Committed, Event: ev}, nil
	}
	client, failed := m.remoteClient(ctx, user)
	if client == nil {
		if failed {
			return &Result{Status: CommittedWithSyncWarning, Event: ev, Warning: "Google Calendar sync failed"}, nil
		}
		return &Result{Status: Committed, Event: ev}, nil
	}

	if _, err := client.UpdateEvent(ctx, ev.RemoteID, ev); err != nil {
		m.logger.Warn("Event updated locally but remote sync failed.", "title", ev.Title, "error", err)
		return &Result{Status: CommittedWithSyncWarning, Event: ev, Warning: "Google Calendar sync failed"}, nil
	}
	return &Result{Status: Committed, Event: ev}, nil
}

// Delete removes the event. When the record is synced the remote delete runs
// first, but the local record is removed regardless of the remote outcome:
// the store must never keep an event the user asked to remove.
func (m *Mutator) Delete(ctx context.Context, user string, id int64) (*Result, error) {
	ev, err := m.store.GetEvent(user, id)
	if err != nil {
		return nil, err
	}

	warning := ""
	if ev.Synced && ev.RemoteID != "" {
		client, failed := m.remoteClient(ctx, user)
		switch {
		case client != nil:
			if err := client.DeleteEvent(ctx, ev.RemoteID); err != nil {
				m.logger.Warn("Remote delete failed, deleting locally anyway.", "title", ev.Title, "error", err)
				warning = "Google Calendar deletion failed"
			}
		case failed:
			warning = "Google Calendar deletion failed"
		}
	}

	if err := m.store.DeleteEvent(user, id); err != nil {
		return nil, err
	}
	if warning != "" {
		return &Result{Status: CommittedWithSyncWarning, Event: ev, Warning: warning}, nil
	}
	return &Result{Status: Committed, Event: ev}, nil
}

func applyFields(ev *models.Event, f Fields) {
	ev.Title = f.Title
	ev.Description = f.Description
	ev.Location = f.Location
	ev.Start = f.Start
	ev.End = f.End
	ev.ColorID = f.ColorID
	ev.GuestEmails = f.GuestEmails
}

// remoteClient returns an authenticated client when the user is connected.
// failed is true when the user is connected but no client could be built;
// the mutation then commits locally with a sync warning.
func (m *Mutator) remoteClient(ctx context.Context, user string) (client RemoteCalendar, failed bool) {
	if !m.creds.IsConnected(user) {
		return nil, false
	}
	bundle, err := m.creds.Resolve(ctx, user)
	if err != nil || bundle == nil {
		m.logger.Warn("Could not resolve remote credentials.", "user", user, "error", err)
		return nil, true
	}
	client, err = m.newClient(ctx, bundle)
	if err != nil {
		m.logger.Warn("Could not build remote client.", "user", user, "error", err)
		return nil, true
	}
	return client, false
}

func (m *Mutator) geocode(ctx context.Context, ev *models.Event) {
	if m.geocoder == nil || ev.Location == "" {
		return
	}
	if lat, lng, ok := m.geocoder.Lookup(ctx, ev.Location); ok {
		ev.Latitude = &lat
		ev.Longitude = &lng
	}
}
