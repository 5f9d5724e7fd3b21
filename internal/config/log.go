package config

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Log struct {
	Level      string
	Console    bool
	File       string
	MaxAge     int // days
	MaxSize    int // megabytes
	MaxBackups int
}

func (Log) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("log.level", "info", "log level: trace, debug, info, warn, error")
	if err := viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log.level")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("log.console", true, "log to stderr")
	if err := viper.BindPFlag("log.console", cmd.PersistentFlags().Lookup("log.console")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("log.file", "", "log to this file as well, rotated on SIGHUP")
	if err := viper.BindPFlag("log.file", cmd.PersistentFlags().Lookup("log.file")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxage", 0, "days to keep rotated log files")
	if err := viper.BindPFlag("log.maxage", cmd.PersistentFlags().Lookup("log.maxage")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxsize", 100, "megabytes of log file before it is rotated")
	if err := viper.BindPFlag("log.maxsize", cmd.PersistentFlags().Lookup("log.maxsize")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxbackups", 0, "number of rotated log files to keep")
	if err := viper.BindPFlag("log.maxbackups", cmd.PersistentFlags().Lookup("log.maxbackups")); err != nil {
		return err
	}

	return nil
}

func (l *Log) Set() {
	l.Level = viper.GetString("log.level")
	l.Console = viper.GetBool("log.console")
	l.File = viper.GetString("log.file")
	l.MaxAge = viper.GetInt("log.maxage")
	l.MaxSize = viper.GetInt("log.maxsize")
	l.MaxBackups = viper.GetInt("log.maxbackups")
}

// Writer combines the configured outputs. The returned function stops
// listening for SIGHUP.
func (l *Log) Writer() (io.Writer, func()) {
	var writers []io.Writer
	stop := func() {}

	if l.Console {
		fd := os.Stderr.Fd()
		writers = append(writers, zerolog.ConsoleWriter{
			Out:     os.Stderr,
			NoColor: !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd),
		})
	}

	if l.File != "" {
		file := &lumberjack.Logger{
			Filename:   l.File,
			MaxAge:     l.MaxAge,
			MaxSize:    l.MaxSize,
			MaxBackups: l.MaxBackups,
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)

		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-hup:
					_ = file.Rotate()
				case <-done:
					return
				}
			}
		}()

		stop = func() {
			signal.Stop(hup)
			close(done)
		}

		writers = append(writers, file)
	}

	return io.MultiWriter(writers...), stop
}

// Logger builds the process wide logger. Every event carries the pid, so
// lines of two instances sharing a log file can be told apart.
func (l *Log) Logger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()
}

// Apply installs the logger and level globally.
func (l *Log) Apply() func() {
	w, stop := l.Writer()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = l.Logger(w)

	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
		log.Warn().Str("log-level", l.Level).Msg("unknown log level, using info")
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("level", level.String()).
		Bool("console", l.Console).
		Str("file", l.File).
		Msg("logging configured")

	return stop
}
