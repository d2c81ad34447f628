package main

import (
	"context"
	"fmt"
	"time"

	tether "github.com/WelcomerTeam/Tether"
	"github.com/radovskyb/watcher"
	"github.com/rs/zerolog"
)

const watchInterval = time.Second

// watchConfiguration reapplies the settings that can change without
// reconnecting whenever the configuration file is written.
func watchConfiguration(ctx context.Context, logger zerolog.Logger, path string, client *tether.Client) error {
	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create)

	if err := w.Add(path); err != nil {
		return fmt.Errorf("failed to watch configuration: %w", err)
	}

	go func() {
		if err := w.Start(watchInterval); err != nil {
			logger.Error().Err(err).Msg("Failed to start configuration watcher")
		}
	}()
	defer w.Close()

	for {
		select {
		case <-w.Event:
			reloadConfiguration(logger, path, client)
		case err := <-w.Error:
			logger.Warn().Err(err).Msg("Configuration watcher failed")
		case <-w.Closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func reloadConfiguration(logger zerolog.Logger, path string, client *tether.Client) {
	configuration, err := tether.LoadConfiguration(path)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to reload configuration")

		return
	}

	setLevel(logger, configuration.Logging.Level)

	if timeout := configuration.RateLimitTimeout(); timeout != client.REST.MaxRateLimitTimeout() {
		client.SetMaxRateLimitTimeout(timeout)

		logger.Info().Dur("max_ratelimit_timeout", timeout).Msg("Changed ratelimit timeout")
	}
}
