package cmd

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/audiohls/internal/config"
)

const (
	defCfgPath = "/etc/audiohls/"
	envPrefix  = "AUDIOHLS"
)

var root = &cobra.Command{
	Use:     "audiohls",
	Short:   "Audio HLS server CLI.",
	Long:    `Audio HLS server with on-demand segment transcoding.`,
	Version: "1.0.0",
}

// called once on start and again whenever the config file changes
var onConfigLoad []func()

func init() {
	var cfgFile string
	logConfig := &config.Log{}

	cobra.OnInitialize(func() {
		if err := readConfig(cfgFile); err != nil {
			panic(err)
		}

		logConfig.Set()
		logConfig.Apply()

		if file := viper.ConfigFileUsed(); file != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				log.Info().Str("config", e.Name).Str("op", e.Op.String()).Msg("config file changed")
				loadConfig()
			})
			viper.WatchConfig()

			log.Info().Str("config", file).Msg("preflight complete with config file")
		} else {
			log.Warn().Msg("preflight complete without config file")
		}

		loadConfig()
	})

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	if err := logConfig.Init(root); err != nil {
		log.Panic().Err(err).Msg("unable to register log flags")
	}
}

func Execute() error {
	return root.Execute()
}

func loadConfig() {
	for _, load := range onConfigLoad {
		load()
	}
}

// readConfig looks for config.{yaml,json,toml} in the default path and in
// the working directory. An explicit file must exist, a default one may not.
func readConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		if runtime.GOOS == "linux" {
			viper.AddConfigPath(defCfgPath)
		}
		viper.AddConfigPath(".")
	}

	// e.g. audio.segment-length is AUDIOHLS_AUDIO_SEGMENT_LENGTH
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return nil
	}

	return fmt.Errorf("unable to read config file: %w", err)
}
