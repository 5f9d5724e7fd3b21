package transcoder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	t.Run("format duration wins", func(t *testing.T) {
		data := []byte(`{
			"streams": [{
				"codec_name": "flac",
				"codec_type": "audio",
				"sample_rate": "44100",
				"channels": 2,
				"duration": "94.000000"
			}],
			"format": {
				"format_name": "flac",
				"duration": "95.000000"
			}
		}`)

		probe, err := parseProbeOutput(data)
		require.NoError(t, err)
		assert.Equal(t, 95*time.Second, probe.Duration)
		assert.Equal(t, "flac", probe.CodecName)
		assert.Equal(t, 44100, probe.SampleRate)
		assert.Equal(t, 2, probe.Channels)
		assert.Equal(t, []string{"flac"}, probe.FormatName)
	})

	t.Run("stream duration fallback", func(t *testing.T) {
		data := []byte(`{
			"streams": [{"codec_name": "mp3", "codec_type": "audio", "bit_rate": "320000", "duration": "12.5"}],
			"format": {"format_name": "mp3"}
		}`)

		probe, err := parseProbeOutput(data)
		require.NoError(t, err)
		assert.Equal(t, 12500*time.Millisecond, probe.Duration)
		assert.Equal(t, float64(320000), probe.BitRate)
	})

	t.Run("no audio stream", func(t *testing.T) {
		data := []byte(`{"streams": [{"codec_type": "video"}], "format": {"duration": "1"}}`)

		_, err := parseProbeOutput(data)
		assert.True(t, errors.Is(err, ErrNoAudioStream))
	})
}

func TestProbeAudioSourceNotFound(t *testing.T) {
	_, err := ProbeAudio(context.Background(), "ffprobe", filepath.Join(t.TempDir(), "missing.mp3"))
	assert.True(t, errors.Is(err, ErrSourceNotFound))
}
