// workers/activity_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"challenge-engine/engine"
	"challenge-engine/models"
	"challenge-engine/services"

	"gorm.io/gorm"
)

// ActivitySink receives every completed activity pulled from the source.
type ActivitySink interface {
	OnActivityCompleted(ctx context.Context, userID string, ev services.ActivityEvent) ([]services.ContributionResult, error)
}

// GetActivitiesResponse is the activity source's change feed page.
type GetActivitiesResponse struct {
	Activities []services.ActivityEvent `json:"activities"`
}

type ActivitySyncWorker struct {
	db           *gorm.DB
	sink         ActivitySink
	interval     time.Duration
	baseURL      string // e.g., "http://activities:8600"
	endpointPath string
	serviceToken string
	httpClient   *http.Client

	mu     sync.Mutex
	cursor time.Time
	seeded bool
}

func NewActivitySyncWorker(db *gorm.DB, sink ActivitySink, baseURL, serviceToken string, interval time.Duration) *ActivitySyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ActivitySyncWorker{
		db:           db,
		sink:         sink,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: "/api/v1/activities",
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ActivitySyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Activity Sync Worker (activity source → challenges)…")
	go w.run(ctx)
}

func (w *ActivitySyncWorker) run(ctx context.Context) {
	if _, err := w.syncBatch(ctx); err != nil {
		log.Printf("⚠️ [ActivitySync] initial sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.syncBatch(ctx); err != nil {
				log.Printf("❌ [ActivitySync] batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Activity Sync Worker stopped")
			return
		}
	}
}

// lastSyncTime is the cursor for the next request. The first call seeds it
// from the newest recorded_at in the contribution ledger so restarts resume
// where the last run stopped; after that only delivered events move it.
func (w *ActivitySyncWorker) lastSyncTime(ctx context.Context) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seeded {
		return w.cursor
	}

	var last models.ActivityContribution
	err := w.db.WithContext(ctx).
		Select("recorded_at").
		Where("activity_id IS NOT NULL").
		Order("recorded_at DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		log.Printf("[ActivitySync] ⚠️ could not read ledger cursor: %v", err)
		return w.cursor
	}
	if last.RecordedAt.After(w.cursor) {
		w.cursor = last.RecordedAt
	}
	w.seeded = true
	return w.cursor
}

func (w *ActivitySyncWorker) advance(t time.Time) {
	w.mu.Lock()
	if t.After(w.cursor) {
		w.cursor = t
	}
	w.mu.Unlock()
}

// syncBatch pulls the activities recorded since the cursor and hands each one
// to the sink. It stops at the first event that failed for a reason other than
// a permanent rejection and returns that error. It returns how many activities
// were processed.
func (w *ActivitySyncWorker) syncBatch(ctx context.Context) (int, error) {
	since := w.lastSyncTime(ctx)
	sinceStr := since.UTC().Format(time.RFC3339Nano)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid activity source URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to activity source failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("activity source returned %d: %s", resp.StatusCode, string(body))
	}

	var page GetActivitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return 0, fmt.Errorf("failed to decode activity feed: %w", err)
	}
	if len(page.Activities) == 0 {
		return 0, nil
	}

	log.Printf("[ActivitySync] 📥 processing %d activit(ies) since %s", len(page.Activities), sinceStr)

	var processed, applied, rejectedCount int
	for _, ev := range page.Activities {
		if ev.UserID == "" || ev.ActivityID == "" {
			log.Printf("[ActivitySync] ⚠️ skipping activity without user or id: %+v", ev)
			processed++
			w.advance(ev.RecordedAt)
			continue
		}
		results, err := w.sink.OnActivityCompleted(ctx, ev.UserID, ev)
		applied += len(results)
		if err != nil {
			if !rejected(err) {
				// Hold the cursor so the next batch starts with this event again;
				// challenges that already took it dedupe the replay.
				log.Printf("[ActivitySync] ❌ activity %s for %s will be retried: %v", ev.ActivityID, ev.UserID, err)
				return processed, fmt.Errorf("activity %s: %w", ev.ActivityID, err)
			}
			rejectedCount++
			log.Printf("[ActivitySync] ⚠️ activity %s for %s rejected: %v", ev.ActivityID, ev.UserID, err)
		}
		processed++
		w.advance(ev.RecordedAt)
	}

	log.Printf("[ActivitySync] ✅ synced %d activities (%d challenge updates, %d rejected)",
		processed, applied, rejectedCount)
	return processed, nil
}

// rejected reports whether every failure in err is permanent, so replaying
// the activity could never succeed.
func rejected(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		if len(errs) == 0 {
			return false
		}
		for _, e := range errs {
			if !rejected(e) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, engine.ErrActivityTypeNotAllowed) ||
		errors.Is(err, engine.ErrNotAParticipant) ||
		errors.Is(err, engine.ErrChallengeNotActive) ||
		errors.Is(err, engine.ErrInvalidContribution)
}
