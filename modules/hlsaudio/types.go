package hlsaudio

import "github.com/m1k1o/audiohls/pkg/hlsaudio"

type Config struct {
	hlsaudio.Config

	// overwritten properties
	MediaPath    string `mapstructure:"-"`
	TranscodeDir string

	// modified properties
	MediaBasePath string
	PrewarmRate   int // prewarm requests per minute per client
}

func (c Config) withDefaultValues() Config {
	if c.PlaylistName == "" {
		c.PlaylistName = "playlist.m3u8"
	}
	if c.PrewarmRate == 0 {
		c.PrewarmRate = 30
	}
	return c
}
