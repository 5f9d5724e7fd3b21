package transcoder

import (
	"errors"
	"time"
)

var (
	ErrSourceNotFound = errors.New("source file not found")
	ErrNotStarted     = errors.New("process not started")
	ErrKillFailed     = errors.New("process did not exit after kill")
)

type AudioProfile struct {
	Codec      string
	Bitrate    int // in kilobytes
	SampleRate int
	Channels   int
}

type Config struct {
	FFmpegBinary  string
	InputFilePath string // source audio file.
	OutputDirPath string // segments output path.
	SegmentPrefix string // e.g. prefix001.ts
	SegmentLength float64
	StartSegment  int // first segment number, seek offset is derived from it.

	AudioProfile *AudioProfile
}

func (c Config) withDefaultValues() Config {
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.SegmentPrefix == "" {
		c.SegmentPrefix = "stream"
	}
	if c.SegmentLength == 0 {
		c.SegmentLength = 10
	}
	profile := AudioProfile{}
	if c.AudioProfile != nil {
		profile = *c.AudioProfile
	}
	c.AudioProfile = &profile
	if c.AudioProfile.Codec == "" {
		c.AudioProfile.Codec = "aac"
	}
	if c.AudioProfile.Bitrate == 0 {
		c.AudioProfile.Bitrate = 192
	}
	if c.AudioProfile.SampleRate == 0 {
		c.AudioProfile.SampleRate = 44100
	}
	if c.AudioProfile.Channels == 0 {
		c.AudioProfile.Channels = 2
	}
	return c
}

// StartOffset is the position in seconds where the transcoder seeks to.
func (c Config) StartOffset() float64 {
	return float64(c.StartSegment) * c.SegmentLength
}

// Handle is the part of a running process needed to terminate it.
type Handle interface {
	RequestStop() error
	ForceStop() error
	Done() <-chan struct{}
}

const (
	// DefaultStopGrace is how long a process gets to honor the quit token.
	DefaultStopGrace = 2 * time.Second
	// DefaultKillTimeout is how long a killed process gets to disappear.
	DefaultKillTimeout = 5 * time.Second
)
