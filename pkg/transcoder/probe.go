package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var ErrNoAudioStream = errors.New("no audio stream found")

type ProbeAudioData struct {
	FormatName []string
	Duration   time.Duration

	CodecName  string
	SampleRate int
	Channels   int
	BitRate    float64
}

func ProbeAudio(ctx context.Context, ffprobeBinary string, inputFilePath string) (*ProbeAudioData, error) {
	if _, err := os.Stat(inputFilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, inputFilePath)
		}
		return nil, err
	}

	args := []string{
		"-v", "error", // Hide debug information
		"-show_format",  // Show container information
		"-show_streams", // Show codec information
		"-select_streams", "a", // Audio streams only
		"-of", "json",
		inputFilePath,
	}

	cmd := exec.CommandContext(ctx, ffprobeBinary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(data []byte) (*ProbeAudioData, error) {
	out := struct {
		Streams []struct {
			CodecName  string `json:"codec_name"`
			CodecType  string `json:"codec_type"`
			Duration   string `json:"duration"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			BitRate    string `json:"bit_rate"`
		} `json:"streams"`
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
		} `json:"format"`
	}{}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	probe := ProbeAudioData{}

	found := false
	for _, stream := range out.Streams {
		if stream.CodecType != "audio" {
			continue
		}

		found = true
		probe.CodecName = stream.CodecName
		probe.Channels = stream.Channels

		if stream.SampleRate != "" {
			sampleRate, err := strconv.Atoi(stream.SampleRate)
			if err != nil {
				return nil, fmt.Errorf("unable to parse audio sample rate: %w", err)
			}
			probe.SampleRate = sampleRate
		}

		if stream.BitRate != "" {
			bitRate, err := strconv.ParseFloat(stream.BitRate, 64)
			if err != nil {
				return nil, fmt.Errorf("unable to parse audio stream bitrate: %w", err)
			}
			probe.BitRate = bitRate
		}

		// stream duration is used when format does not provide one
		if stream.Duration != "" && probe.Duration == 0 {
			duration, err := time.ParseDuration(stream.Duration + "s")
			if err != nil {
				return nil, fmt.Errorf("unable to parse stream duration: %w", err)
			}
			probe.Duration = duration
		}

		break
	}

	if !found {
		return nil, ErrNoAudioStream
	}

	if out.Format.FormatName != "" {
		probe.FormatName = strings.Split(out.Format.FormatName, ",")
	}

	if out.Format.Duration != "" {
		duration, err := time.ParseDuration(out.Format.Duration + "s")
		if err != nil {
			return nil, fmt.Errorf("unable to parse format duration: %w", err)
		}
		probe.Duration = duration
	}

	return &probe, nil
}
