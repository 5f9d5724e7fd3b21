package config

import (
	"fmt"
	"os"
	"path"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, Audio{}.Init(cmd))

	transcodeDir := path.Join(t.TempDir(), "segments")
	require.NoError(t, cmd.PersistentFlags().Parse([]string{
		"--audio.media-dir", "/srv/music",
		"--audio.transcode-dir", transcodeDir,
		"--audio.profile.bitrate", "128",
	}))

	var audio Audio
	audio.Set()

	assert.Equal(t, "/srv/music", audio.MediaDir)
	assert.Equal(t, 10.0, audio.SegmentLength)
	assert.Equal(t, 2, audio.SegmentLag)
	assert.Equal(t, 5, audio.LookaheadWindow)
	assert.Equal(t, 100*time.Millisecond, audio.PollInterval)
	assert.Equal(t, 300, audio.PollAttempts)
	assert.Equal(t, 2*time.Second, audio.StopGrace)
	assert.Equal(t, 30, audio.PrewarmRate)
	assert.Equal(t, AudioProfile{Codec: "aac", Bitrate: 128, SampleRate: 44100, Channels: 2}, audio.Profile)

	stat, err := os.Stat(transcodeDir)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func TestAudioWithDefaults(t *testing.T) {
	var audio Audio
	assert.Error(t, audio.withDefaults(), "media dir is required")

	audio = Audio{MediaDir: "/srv/music"}
	require.NoError(t, audio.withDefaults())
	t.Cleanup(func() { _ = os.RemoveAll(audio.TranscodeDir) })

	assert.DirExists(t, audio.TranscodeDir)
	assert.Equal(t, "ffmpeg", audio.FFmpegBinary)
	assert.Equal(t, "ffprobe", audio.FFprobeBinary)
}

func TestServerSet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, Server{}.Init(cmd))
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--bind", ":9000", "--proxy"}))

	var server Server
	server.Set()

	assert.Equal(t, Server{Bind: ":9000", Proxy: true, Metrics: true}, server)
	assert.False(t, server.TLS())
}

func TestServerValidate(t *testing.T) {
	tests := map[string]struct {
		server Server
		ok     bool
	}{
		"plain":     {Server{Bind: ":8080"}, true},
		"tls":       {Server{Bind: ":8443", SSLCert: "cert.pem", SSLKey: "key.pem"}, true},
		"no bind":   {Server{}, false},
		"cert only": {Server{Bind: ":8443", SSLCert: "cert.pem"}, false},
		"key only":  {Server{Bind: ":8443", SSLKey: "key.pem"}, false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.server.validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLogFile(t *testing.T) {
	logFile := path.Join(t.TempDir(), "audiohls.log")
	l := Log{Level: "debug", File: logFile, MaxSize: 1}

	w, stop := l.Writer()
	t.Cleanup(stop)

	logger := l.Logger(w)
	logger.Info().Str("resource", "track.flac").Msg("session started")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resource":"track.flac"`)
	assert.Contains(t, string(data), fmt.Sprintf(`"pid":%d`, os.Getpid()))
}
