package syncer

import (
	"context"
	"sort"
	"strings"
	"time"

	"eventra/internal/models"
	"eventra/internal/store"
)

// searchWindow bounds how far the remote calendar is queried for search.
const searchWindow = 365 * 24 * time.Hour

// Search matches the query against title, description, and location of both
// local records and remote events, restricted by the time filter. Remote
// events already represented by a local result are not listed twice. Remote
// failures degrade to local-only results.
func (e *Engine) Search(ctx context.Context, user, query string, filter store.TimeFilter, now time.Time) ([]models.TimelineEntry, error) {
	local, err := e.store.SearchEvents(user, query, filter, now)
	if err != nil {
		return nil, err
	}

	results := make([]models.TimelineEntry, 0, len(local))
	localRemoteIDs := make(map[string]bool)
	for _, rec := range local {
		if rec.Synced && rec.RemoteID != "" {
			localRemoteIDs[rec.RemoteID] = true
		}
		results = append(results, models.TimelineEntry{
			Title:       rec.Title,
			Description: rec.Description,
			Location:    rec.Location,
			Start:       rec.Start,
			End:         rec.End,
			FromRemote:  rec.Synced,
			LocalID:     rec.ID,
		})
	}

	if e.creds.IsConnected(user) {
		timeMin, timeMax := searchBounds(filter, now)
		if remote, ok := e.listRemote(ctx, user, timeMin, timeMax); ok {
			for _, r := range remote {
				if localRemoteIDs[r.ID] || !matchesQuery(r, query) {
					continue
				}
				results = append(results, models.TimelineEntry{
					Title:       r.Title,
					Description: r.Description,
					Location:    r.Location,
					Start:       r.Start,
					End:         r.End,
					FromRemote:  true,
					Color:       models.ColorForID(r.ColorID),
				})
			}
		}
	}

	if filter == store.FilterPast {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Start.After(results[j].Start) })
	} else {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Start.Before(results[j].Start) })
	}
	return results, nil
}

func searchBounds(filter store.TimeFilter, now time.Time) (time.Time, time.Time) {
	switch filter {
	case store.FilterPast:
		return now.Add(-searchWindow), now
	case store.FilterUpcoming:
		return now, now.Add(searchWindow)
	default:
		return now.Add(-searchWindow), now.Add(searchWindow)
	}
}

func matchesQuery(r models.RemoteEvent, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(r.Title), q) ||
		strings.Contains(strings.ToLower(r.Description), q) ||
		strings.Contains(strings.ToLower(r.Location), q)
}

// listRemote resolves credentials and lists the given window, degrading to
// not-ok on any failure.
func (e *Engine) listRemote(ctx context.Context, user string, timeMin, timeMax time.Time) ([]models.RemoteEvent, bool) {
	bundle, err := e.creds.Resolve(ctx, user)
	if err != nil || bundle == nil {
		e.logger.Warn("Could not resolve remote credentials.", "user", user, "error", err)
		return nil, false
	}
	client, err := e.newClient(ctx, bundle)
	if err != nil {
		e.logger.Warn("Could not build remote client.", "user", user, "error", err)
		return nil, false
	}
	remote, err := client.ListEvents(ctx, timeMin, timeMax)
	if err != nil {
		e.logger.Warn("Remote list failed.", "user", user, "error", err)
		return nil, false
	}
	return remote, true
}
