package hlsaudio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/m1k1o/audiohls/internal/metrics"
	"github.com/m1k1o/audiohls/pkg/transcoder"
)

type ManagerCtx struct {
	logger    zerolog.Logger
	config    Config
	processes *transcoder.Registry

	playlist   *Playlist
	playlistMu sync.RWMutex
	playlistSf singleflight.Group

	// serializes decisions about which session runs
	manageMu sync.Mutex

	session   *session
	sessionMu sync.RWMutex

	jobs sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(config *Config, processes *transcoder.Registry) *ManagerCtx {
	ctx, cancel := context.WithCancel(context.Background())

	c := config.withDefaultValues()
	if processes == nil {
		processes = transcoder.NewRegistry(c.StopGrace)
	}

	return &ManagerCtx{
		logger:    log.With().Str("module", "hlsaudio").Str("submodule", "manager").Logger(),
		config:    c,
		processes: processes,
		ctx:       ctx,
		cancel:    cancel,
	}
}

//
// playlist
//

func (m *ManagerCtx) getPlaylist() *Playlist {
	m.playlistMu.RLock()
	defer m.playlistMu.RUnlock()

	return m.playlist
}

// load persisted playlist or probe media and persist a new one
func (m *ManagerCtx) loadPlaylist() (*Playlist, error) {
	playlist, err := m.getCachedPlaylist()
	if err == nil {
		metrics.PlaylistBuilds.WithLabelValues("cache").Inc()
		return playlist, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		m.logger.Err(err).Msg("cached playlist is not usable, replacing")
	}

	start := time.Now()
	m.logger.Info().Msg("probing media")

	ctx, cancel := context.WithTimeout(m.ctx, m.config.ProbeTimeout)
	defer cancel()

	data, err := m.config.ProbeAudio(ctx, m.config.FFprobeBinary, m.config.MediaPath)
	if err != nil {
		if errors.Is(err, transcoder.ErrSourceNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrResourceNotFound, err)
		}
		return nil, fmt.Errorf("unable to probe media: %w", err)
	}

	playlist, err = NewPlaylist(data.Duration.Seconds(), m.config.SegmentLength, m.config.SegmentPrefix)
	if err != nil {
		return nil, err
	}

	if err := m.saveCachedPlaylist(playlist); err != nil {
		return nil, fmt.Errorf("unable to persist playlist: %w", err)
	}

	metrics.PlaylistBuilds.WithLabelValues("probe").Inc()
	m.logger.Info().
		Int("segments", playlist.Len()).
		Float64("duration", playlist.Duration).
		Dur("elapsed", time.Since(start)).
		Msg("playlist built")

	return playlist, nil
}

// Playlist returns the segment list, building it on the first call.
// Concurrent callers share a single build.
func (m *ManagerCtx) Playlist(ctx context.Context) (*Playlist, error) {
	if playlist := m.getPlaylist(); playlist != nil {
		return playlist, nil
	}

	if m.ctx.Err() != nil {
		return nil, ErrShutdown
	}

	ch := m.playlistSf.DoChan("playlist", func() (interface{}, error) {
		if playlist := m.getPlaylist(); playlist != nil {
			return playlist, nil
		}

		playlist, err := m.loadPlaylist()
		if err != nil {
			return nil, err
		}

		m.playlistMu.Lock()
		m.playlist = playlist
		m.playlistMu.Unlock()

		return playlist, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Playlist), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

//
// sessions
//

func (m *ManagerCtx) getSession() *session {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	return m.session
}

func (m *ManagerCtx) setSession(s *session) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	m.session = s
}

func (m *ManagerCtx) isReady(index int) bool {
	s := m.getSession()
	return s != nil && s.isCompleted(index)
}

// must be called with manageMu held
func (m *ManagerCtx) startSession(ctx context.Context, index int, previous *session, reason string) error {
	// outgoing job must be gone before a new one starts
	if previous != nil {
		select {
		case <-previous.stop():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.ctx.Err() != nil {
		return ErrShutdown
	}

	playlist := m.getPlaylist()
	s := newSession(index, playlist.LastIndex(), previous)

	logger := m.logger.With().
		Str("session", s.id).
		Int("start-segment", index).
		Str("reason", reason).
		Logger()

	job, err := m.config.StartJob(transcoder.Config{
		FFmpegBinary:  m.config.FFmpegBinary,
		InputFilePath: m.config.MediaPath,
		OutputDirPath: m.config.TranscodeDir,
		SegmentPrefix: m.config.SegmentPrefix,
		SegmentLength: m.config.SegmentLength,
		StartSegment:  index,
		AudioProfile:  m.config.AudioProfile,
	})

	if err != nil {
		// keep what was already completed
		s.exit(outcomeFailed)
		m.setSession(s)

		logger.Err(err).Msg("unable to start transcoder")
		if errors.Is(err, transcoder.ErrSourceNotFound) {
			return fmt.Errorf("%w: %w", ErrResourceNotFound, err)
		}
		return fmt.Errorf("unable to start transcoder: %w", err)
	}

	jobCtx, cancel := context.WithCancel(m.ctx)
	s.attach(cancel)
	m.setSession(s)

	metrics.SessionsStarted.WithLabelValues(reason).Inc()
	logger.Info().Msg("session started")

	m.jobs.Add(1)
	go m.runJob(jobCtx, s, job, logger)

	return nil
}

func (m *ManagerCtx) handleLine(s *session, logger zerolog.Logger, line string) {
	elapsed, ok := ParseProgressTime(line)
	if !ok {
		logger.Debug().Str("line", line).Msg("transcoder output")
		return
	}

	s.advance(CompletedIndex(s.startSegment, elapsed, m.config.SegmentLength, m.config.SegmentLag))
}

func (m *ManagerCtx) runJob(ctx context.Context, s *session, job Job, logger zerolog.Logger) {
	defer m.jobs.Done()

	outcome := outcomeFailed
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("transcoder job panicked")
			outcome = outcomeFailed

			_ = job.ForceStop()
			go func() {
				for range job.Lines() {
				}
			}()
			<-job.Done()
		}

		m.processes.Remove(job)
		metrics.TranscoderExits.WithLabelValues(outcome).Inc()
		s.exit(outcome)

		logger.Info().
			Str("outcome", outcome).
			Int("highest-completed", s.highest()).
			Msg("session finished")
	}()

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("progress tracking panicked")
				for range job.Lines() {
				}
			}
		}()

		for line := range job.Lines() {
			m.handleLine(s, logger, line)
		}
	}()

	if err := m.processes.Add(job); err != nil {
		logger.Warn().Err(err).Msg("transcoder started during shutdown")
	}

	select {
	case <-job.Done():
	case <-ctx.Done():
		forced, err := transcoder.TerminateTimeout(job, m.config.StopGrace, m.config.KillTimeout)
		metrics.IncTranscoderStop(forced, err)
		if err != nil {
			// session is not released while the process can still write segments
			logger.Err(err).Msg("unable to stop transcoder, waiting for it to exit")
			<-job.Done()
		} else if forced {
			logger.Warn().Msg("transcoder had to be killed")
		}
	}

	<-consumed

	switch {
	case ctx.Err() != nil, m.processes.Closed():
		// cooperative stop exits cleanly as well, cancellation decides
		outcome = outcomeCancelled
	case job.Err() != nil:
		outcome = outcomeFailed
		logger.Err(job.Err()).Msg("transcoder failed")
	default:
		outcome = outcomeCompleted
		s.finish()
	}
}

//
// coverage
//

// EnsureCoverage makes sure there is a session that is going to produce
// segment index, restarting the transcoder when the index lies behind its
// start or too far ahead of its progress.
func (m *ManagerCtx) EnsureCoverage(ctx context.Context, index int) error {
	playlist, err := m.Playlist(ctx)
	if err != nil {
		return err
	}

	if index < 0 || index > playlist.LastIndex() {
		return fmt.Errorf("%w: %d", ErrSegmentOutOfRange, index)
	}

	m.manageMu.Lock()
	defer m.manageMu.Unlock()

	if m.ctx.Err() != nil {
		return ErrShutdown
	}

	current := m.getSession()
	if current == nil {
		return m.startSession(ctx, index, nil, "initial")
	}

	if current.isCompleted(index) {
		return nil
	}

	if !current.running() {
		return m.startSession(ctx, index, current, "resume")
	}

	if index < current.startSegment {
		return m.startSession(ctx, index, current, "seek-behind")
	}

	// fresh session is not behind its own start, progress is at least start-1
	progress := current.highest()
	if progress < current.startSegment-1 {
		progress = current.startSegment - 1
	}

	if index > progress+m.config.LookaheadWindow {
		return m.startSession(ctx, index, current, "seek-ahead")
	}

	return nil
}

// AwaitSegment polls until segment index is finalized. It gives up early
// when the governing session is replaced, cancelled or exits without
// producing the segment.
func (m *ManagerCtx) AwaitSegment(ctx context.Context, index int) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ready"
		switch {
		case errors.Is(err, ErrSegmentTimeout):
			outcome = "timeout"
		case errors.Is(err, ErrInterrupted):
			outcome = "interrupted"
		case errors.Is(err, ErrShutdown):
			outcome = "shutdown"
		case err != nil:
			outcome = "cancelled"
		}

		metrics.SegmentWaits.WithLabelValues(outcome).Inc()
		metrics.SegmentWaitDuration.Observe(time.Since(start).Seconds())
	}()

	governing := m.getSession()
	if governing == nil {
		return ErrInterrupted
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < m.config.PollAttempts; attempt++ {
		if m.isReady(index) {
			return nil
		}

		if m.getSession() != governing || governing.isCancelled() {
			return fmt.Errorf("%w: session replaced", ErrInterrupted)
		}

		// session restarted past the index before the wait began
		if index < governing.startSegment {
			return fmt.Errorf("%w: segment %d is behind session start %d", ErrInterrupted, index, governing.startSegment)
		}

		if governing.exited() {
			return fmt.Errorf("%w: session %s", ErrInterrupted, governing.getOutcome())
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrShutdown
		}
	}

	if m.isReady(index) {
		return nil
	}

	return fmt.Errorf("%w: segment %d", ErrSegmentTimeout, index)
}

// Prewarm starts converting from the first missing segment, unless a
// session is already running. It reports whether a session was started.
func (m *ManagerCtx) Prewarm(ctx context.Context) (bool, error) {
	if _, err := m.Playlist(ctx); err != nil {
		return false, err
	}

	m.manageMu.Lock()
	defer m.manageMu.Unlock()

	if m.ctx.Err() != nil {
		return false, ErrShutdown
	}

	current := m.getSession()
	if current != nil && current.running() {
		return false, nil
	}

	index := 0
	if current != nil {
		index = current.firstMissing()
		if index < 0 {
			return false, nil
		}
	}

	if err := m.startSession(ctx, index, current, "prewarm"); err != nil {
		return false, err
	}

	return true, nil
}

func (m *ManagerCtx) Stop() {
	// cancels every job context
	m.cancel()

	m.manageMu.Lock()
	if current := m.getSession(); current != nil {
		current.stop()
	}
	m.manageMu.Unlock()

	m.jobs.Wait()
}

//
// status
//

type Status struct {
	State            string  `json:"state"`
	Session          string  `json:"session,omitempty"`
	StartSegment     int     `json:"start_segment"`
	HighestCompleted int     `json:"highest_completed"`
	Completed        []int   `json:"completed"`
	Segments         int     `json:"segments"`
	Duration         float64 `json:"duration"`
	Persisted        bool    `json:"persisted"`
}

func (m *ManagerCtx) Status() Status {
	status := Status{
		State:            "none",
		HighestCompleted: -1,
		Completed:        []int{},
		Persisted:        m.hasCachedPlaylist(),
	}

	if playlist := m.getPlaylist(); playlist != nil {
		status.Segments = playlist.Len()
		status.Duration = playlist.Duration
	}

	s := m.getSession()
	if s == nil {
		return status
	}

	switch {
	case s.running() && s.isCancelled():
		status.State = "restarting"
	case s.running():
		status.State = "running"
	default:
		status.State = "idle"
	}

	status.Session = s.id
	status.StartSegment = s.startSegment
	status.HighestCompleted = s.highest()
	status.Completed = s.completedIndices()
	return status
}

//
// http
//

func (m *ManagerCtx) httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrResourceNotFound):
		http.Error(w, "404 resource not found", http.StatusNotFound)
	case errors.Is(err, ErrSegmentOutOfRange):
		http.Error(w, "404 segment not found", http.StatusNotFound)
	case errors.Is(err, ErrSegmentTimeout), errors.Is(err, ErrInterrupted):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "503 segment not available yet", http.StatusServiceUnavailable)
	case errors.Is(err, ErrShutdown):
		http.Error(w, "503 shutting down", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// client is gone
		http.Error(w, "503 request cancelled", http.StatusServiceUnavailable)
	default:
		m.logger.Err(err).Msg("request failed")
		http.Error(w, "500 internal error", http.StatusInternalServerError)
	}
}

func (m *ManagerCtx) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	playlist, err := m.Playlist(r.Context())
	if err != nil {
		m.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(playlist.Manifest()))
}

func (m *ManagerCtx) ServeSegment(w http.ResponseWriter, r *http.Request) {
	// name of the requested segment is everything after last slash
	reqSegName := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	// getting index from segment name
	index, ok := ParseSegmentIndex(m.config.SegmentPrefix, reqSegName)
	if !ok {
		http.Error(w, "404 bad segment name", http.StatusNotFound)
		return
	}

	if !m.isReady(index) {
		if err := m.EnsureCoverage(r.Context(), index); err != nil {
			m.httpError(w, err)
			return
		}

		if err := m.AwaitSegment(r.Context(), index); err != nil {
			m.logger.Warn().Err(err).Int("index", index).Msg("segment not served")
			m.httpError(w, err)
			return
		}
	}

	// check if segment is on the disk
	segmentPath := path.Join(m.config.TranscodeDir, SegmentName(m.config.SegmentPrefix, index))
	if _, err := os.Stat(segmentPath); os.IsNotExist(err) {
		m.logger.Warn().Int("index", index).Str("path", segmentPath).Msg("segment file not found")
		http.Error(w, "404 segment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "video/MP2T")
	http.ServeFile(w, r, segmentPath)
}
