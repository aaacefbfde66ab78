// Package dashboard exposes run status over HTTP: a JSON index of archived
// runs and a live SSE stream of dispatch progress.
package dashboard

import (
	"context"
	"fmt"

	"github.com/a8cteam51/team51-cli-new/internal/history"
	"github.com/a8cteam51/team51-cli-new/internal/progress"
)

// Service gathers the data the dashboard serves. Either source may be nil:
// a CLI run without DATABASE_URL has no archive, and the archive reader has
// no live stream.
type Service struct {
	store  *history.Store
	stream *progress.Stream
}

// NewService builds a dashboard service.
func NewService(store *history.Store, stream *progress.Stream) *Service {
	return &Service{store: store, stream: stream}
}

// RecentRuns returns the newest archived runs.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]history.RunSummary, error) {
	if s.store == nil {
		return nil, fmt.Errorf("run history not configured")
	}
	return s.store.RecentRuns(ctx, limit)
}

// RunResults returns the per-task outcomes of one archived run.
func (s *Service) RunResults(ctx context.Context, runID string) ([]history.TaskRecord, error) {
	if s.store == nil {
		return nil, fmt.Errorf("run history not configured")
	}
	return s.store.RunResults(ctx, runID)
}

// SubscribeProgress taps the live progress stream.
func (s *Service) SubscribeProgress() (<-chan progress.Event, []progress.Event, func(), error) {
	if s.stream == nil {
		return nil, nil, nil, fmt.Errorf("progress stream not configured")
	}
	ch, hist, cleanup := s.stream.Subscribe()
	return ch, hist, cleanup, nil
}
