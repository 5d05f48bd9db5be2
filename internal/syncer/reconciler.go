// Package syncer keeps the local event store consistent with the user's
// remote calendar and applies user-initiated mutations to both sides.
package syncer

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"eventra/internal/auth"
	"eventra/internal/models"
	"eventra/internal/store"
)

// Reconciliation window around now.
const (
	lookBehind = 30 * 24 * time.Hour
	lookAhead  = 90 * 24 * time.Hour
)

// RemoteCalendar is the gateway to one external calendar account.
type RemoteCalendar interface {
	CreateEvent(ctx context.Context, ev *models.Event) (*models.RemoteEvent, error)
	UpdateEvent(ctx context.Context, remoteID string, ev *models.Event) (*models.RemoteEvent, error)
	DeleteEvent(ctx context.Context, remoteID string) error
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.RemoteEvent, error)
}

// ClientFactory builds an authenticated remote client from a resolved
// credential bundle.
type ClientFactory func(ctx context.Context, bundle *auth.Bundle) (RemoteCalendar, error)

// Engine runs the reconciliation pass on every read of a user's events.
type Engine struct {
	store     *store.Store
	creds     *auth.CredentialStore
	newClient ClientFactory
	logger    *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(st *store.Store, creds *auth.CredentialStore, factory ClientFactory, logger *slog.Logger) *Engine {
	return &Engine{store: st, creds: creds, newClient: factory, logger: logger}
}

// ReconcileResult is what a single pass returns for display.
type ReconcileResult struct {
	// Own is the "created by me" view: upcoming records excluding imports.
	Own []*models.Event
	// Timeline is the merged, de-duplicated, color-annotated view of local
	// and remote-only events, sorted by start time.
	Timeline []models.TimelineEntry
	// Connected reports whether a remote calendar is linked.
	Connected bool
}

// Reconcile diffs the local store against the remote calendar: records whose
// remote counterpart vanished are deleted, remote events with no local
// counterpart are imported exactly once, and the combined timeline is
// annotated with remote display colors.
//
// Concurrent passes for the same user are not mutually excluded; two
// overlapping calls can both decide to import the same remote event before
// either commits. See DESIGN.md.
func (e *Engine) Reconcile(ctx context.Context, user string, now time.Time) (*ReconcileResult, error) {
	own, err := e.store.ListUpcomingOwn(user, now)
	if err != nil {
		return nil, err
	}

	if !e.creds.IsConnected(user) {
		return &ReconcileResult{Own: own, Timeline: localTimeline(own, nil)}, nil
	}

	remote, ok := e.listRemote(ctx, user, now.Add(-lookBehind), now.Add(lookAhead))
	if !ok {
		// A failed list call must not be mistaken for an empty calendar:
		// skip deletion detection and import, keep local data visible.
		return &ReconcileResult{Own: own, Timeline: localTimeline(own, nil), Connected: true}, nil
	}

	remoteIDs := make(map[string]bool, len(remote))
	colors := make(map[string]string, len(remote))
	for _, r := range remote {
		remoteIDs[r.ID] = true
		colors[r.ID] = models.ColorForID(r.ColorID)
	}

	// Mirror remote-side deletions: any synced upcoming record whose remote
	// counterpart vanished is removed locally. Remote is authoritative for
	// events it once accepted.
	synced, err := e.store.ListUpcomingSynced(user, now)
	if err != nil {
		return nil, err
	}
	for _, rec := range synced {
		if !remoteIDs[rec.RemoteID] {
			e.logger.Info("Remote event deleted, removing local record.", "title", rec.Title, "remoteID", rec.RemoteID)
			if err := e.store.DeleteEvent(user, rec.ID); err != nil {
				e.logger.Error("Failed to delete local record.", "id", rec.ID, "error", err)
			}
		}
	}

	own, err = e.store.ListUpcomingOwn(user, now)
	if err != nil {
		return nil, err
	}

	// Remote IDs already represented by the created-by-me view; remote
	// events outside it get their own timeline entry.
	ownRemoteIDs := make(map[string]bool)
	for _, rec := range own {
		if rec.Synced && rec.RemoteID != "" {
			ownRemoteIDs[rec.RemoteID] = true
		}
	}

	// Remote IDs across all local records, any date window. The import pass
	// keys on this set so the same remote event is never imported twice.
	localRemoteIDs, err := e.store.RemoteIDs(user)
	if err != nil {
		return nil, err
	}

	var timeline []models.TimelineEntry
	for _, r := range remote {
		if !ownRemoteIDs[r.ID] {
			timeline = append(timeline, models.TimelineEntry{
				Title:       r.Title,
				Description: r.Description,
				Location:    r.Location,
				Start:       r.Start,
				End:         r.End,
				FromRemote:  true,
				Color:       colors[r.ID],
			})
		}
		if localRemoteIDs[r.ID] {
			continue
		}
		if err := e.importRemote(user, r); err != nil {
			e.logger.Error("Failed to import remote event.", "remoteID", r.ID, "error", err)
		}
	}

	own, err = e.store.ListUpcomingOwn(user, now)
	if err != nil {
		return nil, err
	}

	timeline = append(timeline, localTimeline(own, colors)...)
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Start.Before(timeline[j].Start)
	})

	return &ReconcileResult{Own: own, Timeline: timeline, Connected: true}, nil
}

// importRemote creates a local record for a remote event, tagged as imported
// so it stays out of the created-by-me view.
func (e *Engine) importRemote(user string, r models.RemoteEvent) error {
	title := r.Title
	if title == "" {
		title = "Untitled Event"
	}
	return e.store.CreateEvent(&models.Event{
		User:         user,
		Title:        title,
		Description:  r.Description,
		Location:     r.Location,
		Start:        r.Start,
		End:          r.End,
		OriginalText: models.ImportMarker + ": " + r.Title,
		RemoteID:     r.ID,
		Synced:       true,
	})
}

// localTimeline converts created-by-me records to timeline entries,
// attaching the resolved remote color where one was listed this pass.
func localTimeline(own []*models.Event, colors map[string]string) []models.TimelineEntry {
	entries := make([]models.TimelineEntry, 0, len(own))
	for _, rec := range own {
		var color string
		if rec.Synced && rec.RemoteID != "" {
			color = colors[rec.RemoteID]
		}
		entries = append(entries, models.TimelineEntry{
			Title:       rec.Title,
			Description: rec.Description,
			Location:    rec.Location,
			Start:       rec.Start,
			End:         rec.End,
			FromRemote:  rec.Synced,
			LocalID:     rec.ID,
			Color:       color,
		})
	}
	return entries
}
