package hlsaudio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/m1k1o/audiohls/modules"
	"github.com/m1k1o/audiohls/pkg/hlsaudio"
	"github.com/m1k1o/audiohls/pkg/transcoder"
)

const lockFileName = ".audiohls.lock"

var ErrStoreLocked = errors.New("transcode directory is used by another instance")

// single path element, no traversal possible
var resourceRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]{0,254}$`)

var _ modules.Module = (*ModuleCtx)(nil)

type ModuleCtx struct {
	logger zerolog.Logger
	router chi.Router

	config   Config
	configMu sync.RWMutex

	processes *transcoder.Registry
	lock      *flock.Flock

	managers   map[string]hlsaudio.Manager
	managersMu sync.Mutex
	shutdown   bool
}

func New(config *Config) (*ModuleCtx, error) {
	c := config.withDefaultValues()

	if err := os.MkdirAll(c.TranscodeDir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create transcode dir: %w", err)
	}

	lock := flock.New(path.Join(c.TranscodeDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("unable to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrStoreLocked
	}

	module := &ModuleCtx{
		logger:    log.With().Str("module", "hlsaudio").Logger(),
		config:    c,
		processes: transcoder.NewRegistry(c.StopGrace),
		lock:      lock,
		managers:  make(map[string]hlsaudio.Manager),
	}

	prewarmLimit := httprate.Limit(
		c.PrewarmRate,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "429 too many prewarm requests", http.StatusTooManyRequests)
		}),
	)

	router := chi.NewRouter()
	router.Route("/{resource}", func(r chi.Router) {
		r.Get("/"+c.PlaylistName, module.servePlaylist)
		r.Get("/status", module.serveStatus)
		r.With(prewarmLimit).Post("/prewarm", module.servePrewarm)
		r.With(prewarmLimit).Get("/prewarm", module.servePrewarm)
		r.Get("/{segment}", module.serveSegment)
	})
	module.router = router

	return module, nil
}

func (m *ModuleCtx) getConfig() Config {
	m.configMu.RLock()
	defer m.configMu.RUnlock()

	return m.config
}

// Shutdown sweeps every transcoder process and stops all managers.
func (m *ModuleCtx) Shutdown() {
	m.managersMu.Lock()
	m.shutdown = true
	managers := m.managers
	m.managers = make(map[string]hlsaudio.Manager)
	m.managersMu.Unlock()

	if err := m.processes.Shutdown(); err != nil {
		m.logger.Err(err).Msg("some transcoder processes could not be stopped")
	}

	var g errgroup.Group
	for _, manager := range managers {
		manager := manager
		g.Go(func() error {
			manager.Stop()
			return nil
		})
	}
	_ = g.Wait()

	if err := m.lock.Unlock(); err != nil {
		m.logger.Err(err).Msg("unable to release transcode dir lock")
	}
}

// ConfigReload applies to managers created afterwards.
func (m *ModuleCtx) ConfigReload(config *Config) {
	c := config.withDefaultValues()

	m.configMu.Lock()
	defer m.configMu.Unlock()

	if c.TranscodeDir != m.config.TranscodeDir || c.PlaylistName != m.config.PlaylistName {
		m.logger.Warn().Msg("transcode dir and playlist name changes require restart")
		c.TranscodeDir = m.config.TranscodeDir
		c.PlaylistName = m.config.PlaylistName
	}

	m.config = c
}

func (m *ModuleCtx) getManager(resource string) (hlsaudio.Manager, error) {
	m.managersMu.Lock()
	defer m.managersMu.Unlock()

	if m.shutdown {
		return nil, hlsaudio.ErrShutdown
	}

	if manager, ok := m.managers[resource]; ok {
		return manager, nil
	}

	c := m.getConfig()

	// check if media path exists
	mediaPath := path.Join(c.MediaBasePath, resource)
	if stat, err := os.Stat(mediaPath); err != nil || stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", hlsaudio.ErrResourceNotFound, resource)
	}

	// each resource has its own segment store
	transcodeDir := path.Join(c.TranscodeDir, resource)
	if err := os.MkdirAll(transcodeDir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create transcode dir: %w", err)
	}

	// modify default config
	config := c.Config
	config.MediaPath = mediaPath
	config.TranscodeDir = transcodeDir

	manager := hlsaudio.New(&config, m.processes)
	m.managers[resource] = manager

	m.logger.Info().
		Str("resource", resource).
		Str("media-path", mediaPath).
		Msg("new audio resource manager")

	return manager, nil
}

func (m *ModuleCtx) httpManager(w http.ResponseWriter, r *http.Request) (hlsaudio.Manager, bool) {
	resource := chi.URLParam(r, "resource")
	if !resourceRegex.MatchString(resource) {
		http.Error(w, "404 resource not found", http.StatusNotFound)
		return nil, false
	}

	manager, err := m.getManager(resource)
	if err == nil {
		return manager, true
	}

	switch {
	case errors.Is(err, hlsaudio.ErrResourceNotFound):
		http.Error(w, "404 resource not found", http.StatusNotFound)
	case errors.Is(err, hlsaudio.ErrShutdown):
		http.Error(w, "503 shutting down", http.StatusServiceUnavailable)
	default:
		m.logger.Err(err).Str("resource", resource).Msg("unable to create manager")
		http.Error(w, "500 unable to create manager", http.StatusInternalServerError)
	}

	return nil, false
}

func (m *ModuleCtx) servePlaylist(w http.ResponseWriter, r *http.Request) {
	if manager, ok := m.httpManager(w, r); ok {
		manager.ServePlaylist(w, r)
	}
}

func (m *ModuleCtx) serveSegment(w http.ResponseWriter, r *http.Request) {
	if manager, ok := m.httpManager(w, r); ok {
		manager.ServeSegment(w, r)
	}
}

func (m *ModuleCtx) servePrewarm(w http.ResponseWriter, r *http.Request) {
	manager, ok := m.httpManager(w, r)
	if !ok {
		return
	}

	started, err := manager.Prewarm(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, hlsaudio.ErrResourceNotFound):
		http.Error(w, "404 resource not found", http.StatusNotFound)
		return
	case errors.Is(err, hlsaudio.ErrShutdown):
		http.Error(w, "503 shutting down", http.StatusServiceUnavailable)
		return
	default:
		m.logger.Err(err).Msg("unable to prewarm")
		http.Error(w, "500 unable to prewarm", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"started": started})
}

func (m *ModuleCtx) serveStatus(w http.ResponseWriter, r *http.Request) {
	manager, ok := m.httpManager(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Resource string `json:"resource"`
		hlsaudio.Status
	}{
		Resource: chi.URLParam(r, "resource"),
		Status:   manager.Status(),
	})
}

func (m *ModuleCtx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}
