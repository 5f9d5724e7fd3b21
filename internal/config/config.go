package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type AudioProfile struct {
	Codec      string `mapstructure:"codec"`
	Bitrate    int    `mapstructure:"bitrate"` // in kilobytes
	SampleRate int    `mapstructure:"sample-rate"`
	Channels   int    `mapstructure:"channels"`
}

type Audio struct {
	MediaDir        string        `mapstructure:"media-dir"`
	TranscodeDir    string        `mapstructure:"transcode-dir"`
	FFmpegBinary    string        `mapstructure:"ffmpeg-binary"`
	FFprobeBinary   string        `mapstructure:"ffprobe-binary"`
	SegmentLength   float64       `mapstructure:"segment-length"`
	SegmentLag      int           `mapstructure:"segment-lag"`
	LookaheadWindow int           `mapstructure:"lookahead-window"`
	PollInterval    time.Duration `mapstructure:"poll-interval"`
	PollAttempts    int           `mapstructure:"poll-attempts"`
	StopGrace       time.Duration `mapstructure:"stop-grace"`
	PrewarmRate     int           `mapstructure:"prewarm-rate"`
	Profile         AudioProfile  `mapstructure:"profile"`
}

func (Audio) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("audio.media-dir", "", "directory with source audio files")
	if err := viper.BindPFlag("audio.media-dir", cmd.PersistentFlags().Lookup("audio.media-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("audio.transcode-dir", "", "directory to store playlists and segments, temporary if empty")
	if err := viper.BindPFlag("audio.transcode-dir", cmd.PersistentFlags().Lookup("audio.transcode-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("audio.ffmpeg-binary", "ffmpeg", "path to ffmpeg binary")
	if err := viper.BindPFlag("audio.ffmpeg-binary", cmd.PersistentFlags().Lookup("audio.ffmpeg-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("audio.ffprobe-binary", "ffprobe", "path to ffprobe binary")
	if err := viper.BindPFlag("audio.ffprobe-binary", cmd.PersistentFlags().Lookup("audio.ffprobe-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("audio.segment-length", 10, "segment length in seconds")
	if err := viper.BindPFlag("audio.segment-length", cmd.PersistentFlags().Lookup("audio.segment-length")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("audio.segment-lag", 2, "segments behind reported progress that are not considered finished")
	if err := viper.BindPFlag("audio.segment-lag", cmd.PersistentFlags().Lookup("audio.segment-lag")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("audio.lookahead-window", 5, "segments ahead of progress that are awaited instead of restarting")
	if err := viper.BindPFlag("audio.lookahead-window", cmd.PersistentFlags().Lookup("audio.lookahead-window")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("audio.poll-interval", 100*time.Millisecond, "how often is segment readiness checked")
	if err := viper.BindPFlag("audio.poll-interval", cmd.PersistentFlags().Lookup("audio.poll-interval")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("audio.poll-attempts", 300, "how many times is segment readiness checked")
	if err := viper.BindPFlag("audio.poll-attempts", cmd.PersistentFlags().Lookup("audio.poll-attempts")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("audio.stop-grace", 2*time.Second, "how long can transcoder take to quit before it is killed")
	if err := viper.BindPFlag("audio.stop-grace", cmd.PersistentFlags().Lookup("audio.stop-grace")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("audio.prewarm-rate", 30, "prewarm requests per minute per client")
	if err := viper.BindPFlag("audio.prewarm-rate", cmd.PersistentFlags().Lookup("audio.prewarm-rate")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("audio.profile.codec", "aac", "audio codec of segments")
	if err := viper.BindPFlag("audio.profile.codec", cmd.PersistentFlags().Lookup("audio.profile.codec")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("audio.profile.bitrate", 192, "audio bitrate of segments in kilobits")
	if err := viper.BindPFlag("audio.profile.bitrate", cmd.PersistentFlags().Lookup("audio.profile.bitrate")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("audio.profile.sample-rate", 44100, "audio sample rate of segments")
	if err := viper.BindPFlag("audio.profile.sample-rate", cmd.PersistentFlags().Lookup("audio.profile.sample-rate")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("audio.profile.channels", 2, "audio channels of segments")
	if err := viper.BindPFlag("audio.profile.channels", cmd.PersistentFlags().Lookup("audio.profile.channels")); err != nil {
		return err
	}

	return nil
}

func (a *Audio) Set() {
	a.MediaDir = viper.GetString("audio.media-dir")
	a.TranscodeDir = viper.GetString("audio.transcode-dir")
	a.FFmpegBinary = viper.GetString("audio.ffmpeg-binary")
	a.FFprobeBinary = viper.GetString("audio.ffprobe-binary")
	a.SegmentLength = viper.GetFloat64("audio.segment-length")
	a.SegmentLag = viper.GetInt("audio.segment-lag")
	a.LookaheadWindow = viper.GetInt("audio.lookahead-window")
	a.PollInterval = viper.GetDuration("audio.poll-interval")
	a.PollAttempts = viper.GetInt("audio.poll-attempts")
	a.StopGrace = viper.GetDuration("audio.stop-grace")
	a.PrewarmRate = viper.GetInt("audio.prewarm-rate")
	a.Profile = AudioProfile{
		Codec:      viper.GetString("audio.profile.codec"),
		Bitrate:    viper.GetInt("audio.profile.bitrate"),
		SampleRate: viper.GetInt("audio.profile.sample-rate"),
		Channels:   viper.GetInt("audio.profile.channels"),
	}

	if err := a.withDefaults(); err != nil {
		panic(err)
	}
}

func (a *Audio) withDefaults() error {
	if a.MediaDir == "" {
		return errors.New("audio media dir must be specified")
	}

	if a.TranscodeDir == "" {
		var err error
		a.TranscodeDir, err = os.MkdirTemp(os.TempDir(), "audiohls")
		if err != nil {
			return err
		}
	} else if err := os.MkdirAll(a.TranscodeDir, 0755); err != nil {
		return err
	}

	if a.FFmpegBinary == "" {
		a.FFmpegBinary = "ffmpeg"
	}

	if a.FFprobeBinary == "" {
		a.FFprobeBinary = "ffprobe"
	}

	return nil
}
