package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/audiohls/internal/config"
	"github.com/m1k1o/audiohls/internal/server"
	"github.com/m1k1o/audiohls/modules"
	"github.com/m1k1o/audiohls/modules/hlsaudio"
	hlsAudioPkg "github.com/m1k1o/audiohls/pkg/hlsaudio"
	"github.com/m1k1o/audiohls/pkg/transcoder"
)

func NewCommand() *Main {
	return &Main{
		ServerConfig: &config.Server{},
		AudioConfig:  &config.Audio{},
	}
}

type Main struct {
	ServerConfig *config.Server
	AudioConfig  *config.Audio

	logger   zerolog.Logger
	server   *server.ServerManagerCtx
	hlsAudio *hlsaudio.ModuleCtx
	modules  map[string]modules.Module
}

func (main *Main) Configs() []config.Config {
	return []config.Config{
		main.ServerConfig,
		main.AudioConfig,
	}
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) audioConfig() *hlsaudio.Config {
	audio := main.AudioConfig

	return &hlsaudio.Config{
		MediaBasePath: audio.MediaDir,
		TranscodeDir:  audio.TranscodeDir,
		PrewarmRate:   audio.PrewarmRate,

		Config: hlsAudioPkg.Config{
			FFmpegBinary:  audio.FFmpegBinary,
			FFprobeBinary: audio.FFprobeBinary,
			AudioProfile: &transcoder.AudioProfile{
				Codec:      audio.Profile.Codec,
				Bitrate:    audio.Profile.Bitrate,
				SampleRate: audio.Profile.SampleRate,
				Channels:   audio.Profile.Channels,
			},

			SegmentLength:   audio.SegmentLength,
			SegmentLag:      audio.SegmentLag,
			LookaheadWindow: audio.LookaheadWindow,
			PollInterval:    audio.PollInterval,
			PollAttempts:    audio.PollAttempts,
			StopGrace:       audio.StopGrace,
		},
	}
}

func (main *Main) start() error {
	main.server = server.New(main.ServerConfig)

	var err error
	main.hlsAudio, err = hlsaudio.New(main.audioConfig())
	if err != nil {
		return err
	}

	main.register("/audio", main.hlsAudio)
	main.logger.Info().
		Str("media-dir", main.AudioConfig.MediaDir).
		Str("transcode-dir", main.AudioConfig.TranscodeDir).
		Msg("audio streaming is active")

	main.server.Start()
	return nil
}

func (main *Main) register(prefix string, module modules.Module) {
	if main.modules == nil {
		main.modules = map[string]modules.Module{}
	}

	main.modules[prefix] = module
	main.server.Handle(prefix, module)
}

func (main *Main) shutdown() {
	err := main.server.Shutdown()
	main.logger.Err(err).Msg("http manager shutdown")

	for prefix, module := range main.modules {
		module.Shutdown()
		main.logger.Info().Str("prefix", prefix).Msg("module shutdown")
	}
}

// ConfigReload is called when configuration file changes.
func (main *Main) ConfigReload() {
	if main.hlsAudio == nil {
		return
	}

	main.AudioConfig.Set()
	main.hlsAudio.ConfigReload(main.audioConfig())
	main.logger.Info().Msg("hlsAudio config reloaded")
}

func (main *Main) Run(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	if err := main.start(); err != nil {
		main.logger.Fatal().Err(err).Msg("unable to start")
	}
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.shutdown()
	main.logger.Info().Msg("shutdown complete")
}
