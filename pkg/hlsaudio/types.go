package hlsaudio

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m1k1o/audiohls/pkg/transcoder"
)

var (
	ErrResourceNotFound  = errors.New("resource not found")
	ErrSegmentOutOfRange = errors.New("segment index out of range")
	ErrSegmentTimeout    = errors.New("segment not ready in time")
	ErrInterrupted       = errors.New("segment generation interrupted")
	ErrShutdown          = errors.New("manager is shut down")
)

// Job is a running transcoder as seen by the manager.
type Job interface {
	transcoder.Handle
	Lines() <-chan string
	Err() error
}

type StartFunc func(config transcoder.Config) (Job, error)

type ProbeFunc func(ctx context.Context, ffprobeBinary string, inputFilePath string) (*transcoder.ProbeAudioData, error)

type Config struct {
	MediaPath     string // source audio file.
	TranscodeDir  string // directory holding playlist and segments of this resource.
	SegmentPrefix string
	PlaylistName  string

	FFmpegBinary  string
	FFprobeBinary string
	AudioProfile  *transcoder.AudioProfile

	SegmentLength   float64       // in seconds
	SegmentLag      int           // segments behind reported progress that are not considered finished
	LookaheadWindow int           // segments ahead of progress that are served without restart
	PollInterval    time.Duration // how often is readiness checked
	PollAttempts    int           // how many times is readiness checked
	StopGrace       time.Duration // how long can transcoder take to quit
	KillTimeout     time.Duration // how long can killed transcoder take to disappear
	ProbeTimeout    time.Duration // how long can it take to probe media

	StartJob   StartFunc `mapstructure:"-"`
	ProbeAudio ProbeFunc `mapstructure:"-"`
}

func (c Config) withDefaultValues() Config {
	if c.SegmentPrefix == "" {
		c.SegmentPrefix = "stream"
	}
	if c.PlaylistName == "" {
		c.PlaylistName = "playlist.m3u8"
	}
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.FFprobeBinary == "" {
		c.FFprobeBinary = "ffprobe"
	}
	if c.SegmentLength == 0 {
		c.SegmentLength = 10
	}
	if c.SegmentLag == 0 {
		c.SegmentLag = 2
	}
	if c.LookaheadWindow == 0 {
		c.LookaheadWindow = 5
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = 300
	}
	if c.StopGrace == 0 {
		c.StopGrace = transcoder.DefaultStopGrace
	}
	if c.KillTimeout == 0 {
		c.KillTimeout = transcoder.DefaultKillTimeout
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 30 * time.Second
	}
	if c.StartJob == nil {
		c.StartJob = startTranscoder
	}
	if c.ProbeAudio == nil {
		c.ProbeAudio = transcoder.ProbeAudio
	}
	return c
}

func startTranscoder(config transcoder.Config) (Job, error) {
	return transcoder.Start(config)
}

type Manager interface {
	Stop()
	Status() Status

	Playlist(ctx context.Context) (*Playlist, error)
	Prewarm(ctx context.Context) (bool, error)
	EnsureCoverage(ctx context.Context, index int) error
	AwaitSegment(ctx context.Context, index int) error

	ServePlaylist(w http.ResponseWriter, r *http.Request)
	ServeSegment(w http.ResponseWriter, r *http.Request)
}
