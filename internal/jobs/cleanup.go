package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/auth-broker-go/internal/kv"
)

const cleanupTimeout = 30 * time.Second

// CleanupJob periodically purges expired entries from stores that keep them
// until swept. Reads already ignore expired entries.
type CleanupJob struct {
	sweeper  kv.Sweeper
	name     string
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewCleanupJob(sweeper kv.Sweeper, name string, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sweeper:  sweeper,
		name:     name,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Str("store", j.name).Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		log.Info().Str("store", j.name).Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	count, err := j.sweeper.DeleteExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", j.name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", j.name)
	}
}
