package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	tether "github.com/WelcomerTeam/Tether"
	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/internal/analytics"
	mqclients "github.com/WelcomerTeam/Tether/messaging"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configurationPath := flag.String("config", "tether.yaml", "path of the configuration file")
	envPath := flag.String("env", ".env", "path of an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	if err := run(*configurationPath); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(configurationPath string) error {
	configuration, err := tether.LoadConfiguration(configurationPath)
	if err != nil {
		return err
	}

	logger, logFile := newLogger(configuration)
	if logFile != nil {
		defer logFile.Close()
	}

	setLevel(logger, configuration.Logging.Level)

	if err := analytics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dispatcher tether.Dispatcher

	if configuration.Producer.Type != "" {
		producer, err := newProducer(ctx, logger, configuration)
		if err != nil {
			return err
		}
		defer producer.Close()

		dispatcher = producer
	} else {
		logger.Warn().Msg("No producer configured, events are only logged")

		dispatcher = tether.DispatcherFunc(func(_ context.Context, event string, _ tetherjson.RawMessage) error {
			logger.Debug().Str("type", event).Msg("Received event")

			return nil
		})
	}

	client, err := tether.NewClient(logger, configuration, dispatcher)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer stop()

		return client.Connect(ctx, false)
	})

	group.Go(func() error {
		<-ctx.Done()

		client.Shutdown()

		return nil
	})

	group.Go(func() error {
		return serveHTTP(ctx, logger, configuration.HTTP.Address, client)
	})

	group.Go(func() error {
		return watchConfiguration(ctx, logger, configurationPath, client)
	})

	err = group.Wait()

	if errors.Is(err, context.Canceled) {
		err = nil
	}

	var closeErr *tether.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == discord.CloseNormal {
		err = nil
	}

	logger.Info().Err(err).Msg("Stopped")

	return err
}

func newProducer(ctx context.Context, logger zerolog.Logger, configuration *tether.Configuration) (*mqclients.Producer, error) {
	client, err := mqclients.NewMQClient(configuration.Producer.Type)
	if err != nil {
		return nil, err
	}

	clientName := configuration.Producer.ClientName
	if clientName == "" {
		clientName = "tether"
	}

	if err := client.Connect(ctx, clientName, configuration.Producer.Configuration); err != nil {
		return nil, fmt.Errorf("failed to connect %s producer: %w", client.String(), err)
	}

	return mqclients.NewProducer(logger.With().Str("component", "producer").Logger(),
		client, configuration.Producer.Channel, configuration.Producer.Blacklist), nil
}
