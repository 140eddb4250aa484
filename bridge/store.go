package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sagebionetworks/burstd/cache"
	"github.com/sagebionetworks/burstd/schedule"
)

// CachedStore composes the remote client with the local sqlite cache into
// the engine's schedule and report stores. Remote reads refresh the cache;
// when the platform is unreachable the last cached snapshot is served so the
// daemon keeps working offline.
type CachedStore struct {
	client *Client
	cache  *cache.Store
	logger *slog.Logger
	clock  schedule.Clock
}

// NewCachedStore wires a client and a cache together.
func NewCachedStore(client *Client, store *cache.Store, logger *slog.Logger, clock schedule.Clock) *CachedStore {
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &CachedStore{
		client: client,
		cache:  store,
		logger: logger.With("component", "bridge"),
		clock:  clock,
	}
}

// Snapshot fetches the activity timeline around now and caches it. On a
// fetch error the cached snapshot is served instead; an empty cache passes
// the error through.
func (s *CachedStore) Snapshot(ctx context.Context) ([]schedule.Activity, error) {
	now := s.clock.Now()
	activities, err := s.client.Timeline(ctx,
		now.AddDate(0, 0, -timelineDaysBack),
		now.AddDate(0, 0, timelineDaysAhead))
	if err != nil {
		cached, cacheErr := s.cache.Activities(ctx)
		if cacheErr != nil || len(cached) == 0 {
			return nil, err
		}
		s.logger.Warn("serving cached snapshot", "error", err, "records", len(cached))
		return cached, nil
	}

	if err := s.cache.ReplaceActivities(ctx, activities, now); err != nil {
		s.logger.Warn("failed to cache snapshot", "error", err)
	}
	return activities, nil
}

// FutureMarkers serves marker occurrences from the cached timeline window.
// The next burst cycle starts months past that window, so when the cache
// holds nothing at or after from the platform is asked for the following
// year and the result is cached; a fetch failure answers with the (empty)
// cached view so reminder planning degrades instead of erroring.
func (s *CachedStore) FutureMarkers(ctx context.Context, identifier string, from time.Time, limit int) ([]schedule.Activity, error) {
	markers, err := s.cache.FutureMarkers(ctx, identifier, from, limit)
	if err != nil || len(markers) > 0 {
		return markers, err
	}

	fetched, err := s.client.Timeline(ctx, from, from.AddDate(1, 0, 0))
	if err != nil {
		s.logger.Warn("next-cycle fetch failed", "identifier", identifier, "error", err)
		return nil, nil
	}
	if cacheErr := s.cache.UpsertActivities(ctx, fetched, s.clock.Now()); cacheErr != nil {
		s.logger.Warn("failed to cache next cycle", "error", cacheErr)
	}

	future := schedule.SortByScheduledOn(schedule.Filter(fetched, func(a schedule.Activity) bool {
		return a.Identifier == identifier && a.StartedOn == nil && !a.ScheduledOn.Before(from)
	}))
	if len(future) > limit {
		future = future[:limit]
	}
	return future, nil
}

// SendUpdated persists local mutations and pushes them to the platform. The
// local write happens first so a push failure never loses the mutation.
func (s *CachedStore) SendUpdated(ctx context.Context, activities []schedule.Activity) error {
	if err := s.cache.UpsertActivities(ctx, activities, s.clock.Now()); err != nil {
		return fmt.Errorf("caching updated activities: %w", err)
	}
	return s.client.UpdateActivities(ctx, activities)
}

// FetchReports runs each query remotely and caches the rows; on a remote
// error the cached rows answer instead.
func (s *CachedStore) FetchReports(ctx context.Context, queries []schedule.ReportQuery) ([]schedule.Report, error) {
	var out []schedule.Report
	for _, q := range queries {
		reports, err := s.client.Reports(ctx, q)
		if err != nil {
			s.logger.Warn("serving cached reports", "identifier", q.Identifier, "error", err)
			return s.cache.FetchReports(ctx, queries)
		}
		for _, r := range reports {
			if cacheErr := s.cache.SaveReport(ctx, r); cacheErr != nil {
				s.logger.Warn("failed to cache report", "identifier", r.Identifier, "error", cacheErr)
			}
		}
		out = append(out, reports...)
	}
	return out, nil
}

// SaveReport writes locally first, then remotely.
func (s *CachedStore) SaveReport(ctx context.Context, report schedule.Report) error {
	if err := s.cache.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("caching report: %w", err)
	}
	return s.client.SaveReport(ctx, report)
}
