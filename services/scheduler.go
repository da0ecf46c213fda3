// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartStatusScheduler runs SweepStatuses every interval until the returned
// scheduler is shut down. Sweeps never overlap.
func (s *ChallengeService) StartStatusScheduler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			changed, err := s.SweepStatuses(ctx)
			if err != nil {
				log.Printf("[Scheduler] sweep error: %v", err)
			}
			if changed > 0 {
				log.Printf("✅ [Scheduler] %d challenge(s) changed status", changed)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	log.Printf("[Scheduler] status sweep every %s", interval)
	return sched, nil
}
