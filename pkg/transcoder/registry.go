package transcoder

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/m1k1o/audiohls/internal/metrics"
)

var ErrRegistryClosed = errors.New("registry is shut down")

// Registry keeps every spawned transcoder process, regardless of which
// resource it belongs to, so that they can be swept on shutdown.
type Registry struct {
	logger zerolog.Logger
	grace  time.Duration

	mu      sync.Mutex
	handles map[Handle]struct{}
	closed  bool
}

func NewRegistry(grace time.Duration) *Registry {
	if grace == 0 {
		grace = DefaultStopGrace
	}

	return &Registry{
		logger:  log.With().Str("module", "transcoder").Str("submodule", "registry").Logger(),
		grace:   grace,
		handles: map[Handle]struct{}{},
	}
}

// Add registers a running process. After Shutdown the process is killed
// right away and ErrRegistryClosed is returned.
func (r *Registry) Add(h Handle) error {
	r.mu.Lock()
	closed := r.closed
	if !closed {
		r.handles[h] = struct{}{}
		metrics.TranscoderProcesses.Inc()
	}
	r.mu.Unlock()

	if closed {
		r.logger.Debug().Msg("process registered during shutdown, killing")
		forced, err := Terminate(h, 0)
		metrics.IncTranscoderStop(forced, err)
		return ErrRegistryClosed
	}

	return nil
}

func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[h]; ok {
		delete(r.handles, h)
		metrics.TranscoderProcesses.Dec()
	}
}

// Closed reports whether Shutdown was called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.handles)
}

// Shutdown drains the registry and terminates every process concurrently.
// It returns once all of them exited, gracefully or forcibly.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	r.closed = true
	handles := r.handles
	r.handles = map[Handle]struct{}{}
	metrics.TranscoderProcesses.Sub(float64(len(handles)))
	r.mu.Unlock()

	r.logger.Info().Int("count", len(handles)).Msg("sweeping transcoder processes")

	var g errgroup.Group
	for h := range handles {
		h := h
		g.Go(func() error {
			forced, err := Terminate(h, r.grace)
			metrics.IncTranscoderStop(forced, err)
			if err != nil {
				r.logger.Err(err).Msg("transcoder process could not be stopped")
			} else if forced {
				r.logger.Warn().Msg("transcoder process had to be killed")
			}
			return err
		})
	}

	err := g.Wait()
	r.logger.Info().Msg("transcoder processes swept")
	return err
}
