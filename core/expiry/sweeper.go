// Package expiry implements the periodic background tasks required by
// §4.3/§4.4: session expiry and status-record retention. Both are modeled
// as a Sweeper, an explicit start/stop abstraction around a single
// recurring tick, rather than a raw goroutine racing a shared cancel flag.
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskFunc performs one sweep. It is called with the current time and must
// acquire whatever locks it needs only for the duration of collecting and
// deleting expired entries. It runs on the sweeper's own goroutine, so a
// slow task delays only the next tick.
type TaskFunc func(now time.Time)

// Sweeper runs a TaskFunc on a fixed interval until stopped. It is safe to
// call Stop concurrently with a running tick; Stop blocks until the
// in-flight tick (if any) completes and the background goroutine exits.
type Sweeper struct {
	name     string
	interval time.Duration
	task     TaskFunc
	log      *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	running bool
}

// NewSweeper constructs a Sweeper that invokes task every interval. name is
// used only for logging.
func NewSweeper(name string, interval time.Duration, task TaskFunc) *Sweeper {
	return &Sweeper{
		name:     name,
		interval: interval,
		task:     task,
		log:      logrus.WithField("sweeper", name),
	}
}

// Start begins the recurring tick in a new goroutine. Calling Start on an
// already-running Sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running = true

	go s.loop(runCtx)
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			s.log.Debugf("sweep starting")
			s.task(tick.UTC())
		}
	}
}

// Stop cancels the recurring tick and blocks until the background goroutine
// has exited. Calling Stop on a Sweeper that was never started, or twice,
// is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	stopped := s.stopped
	s.running = false
	s.mu.Unlock()

	<-stopped
}
