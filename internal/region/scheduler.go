package region

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultScheduleWindow = 10 * time.Second
	DefaultSchedulePause  = 10 * time.Second
)

// scheduler walks the open regions and asks each to flush if it has been
// quiet long enough. Checks are spread evenly over window so a large cache
// does not produce a burst of disk writes.
type scheduler struct {
	cache  *Cache
	window time.Duration
	pause  time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newScheduler(c *Cache, window, pause time.Duration, log zerolog.Logger) *scheduler {
	return &scheduler{
		cache:  c,
		window: window,
		pause:  pause,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// start launches the background loop on first use. It is a no-op once
// running or after stop.
func (s *scheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.stopped {
		return
	}
	s.running = true
	go s.run()

	s.log.Info().
		Dur("window", s.window).
		Dur("pause", s.pause).
		Msg("started region flush scheduler")
}

// stop signals the loop and waits for the in-flight flush check to finish.
func (s *scheduler) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	running := s.running
	s.mu.Unlock()

	if running {
		<-s.doneCh
		s.log.Info().Msg("stopped region flush scheduler")
	}
}

func (s *scheduler) run() {
	defer close(s.doneCh)

	for {
		files := s.cache.Files()
		if len(files) > 0 {
			step := s.window / time.Duration(len(files))
			for _, f := range files {
				if _, err := f.MaybeFlush(); err != nil {
					// dirty stays set, the next pass retries
					s.log.Error().Err(err).Str("region", f.Path()).Msg("scheduled flush failed")
				}
				if !s.sleep(step) {
					return
				}
			}
		}

		if !s.sleep(s.pause) {
			return
		}
		s.log.Debug().Int("open", s.cache.Len()).Msg("region cache size")
	}
}

// sleep waits for d and reports false if the scheduler was stopped meanwhile.
func (s *scheduler) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stopCh:
		return false
	case <-t.C:
		return true
	}
}
