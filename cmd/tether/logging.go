package main

import (
	"io"
	"os"
	"time"

	tether "github.com/WelcomerTeam/Tether"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger writes to the console and, when a file is configured, to a
// rotating log file. The file is returned so it can be closed.
func newLogger(configuration *tether.Configuration) (zerolog.Logger, io.Closer) {
	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Stamp},
	}

	var file *lumberjack.Logger

	if configuration.Logging.File != "" {
		file = &lumberjack.Logger{
			Filename:   configuration.Logging.File,
			MaxSize:    configuration.Logging.MaxSize,
			MaxBackups: configuration.Logging.MaxBackups,
			MaxAge:     configuration.Logging.MaxAge,
			Compress:   configuration.Logging.Compress,
		}

		writers = append(writers, file)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	if file == nil {
		return logger, nil
	}

	return logger, file
}

func setLevel(logger zerolog.Logger, level string) {
	zlLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logger.Warn().Str("lvl", level).Msg("Current zerolog level provided is not valid")

		return
	}

	if zerolog.GlobalLevel() != zlLevel {
		logger.Info().Str("lvl", level).Msg("Changed logging level")
		zerolog.SetGlobalLevel(zlLevel)
	}
}
