package main

import (
	"context"
	"errors"
	"net"

	tether "github.com/WelcomerTeam/Tether"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// restResponse is the body of every status server response.
type restResponse struct {
	Ok    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func newRouter(logger zerolog.Logger, client *tether.Client) *router.Router {
	r := router.New()

	r.GET("/status", func(ctx *fasthttp.RequestCtx) {
		writeResponse(logger, ctx, fasthttp.StatusOK, restResponse{Ok: true, Data: client.Status()})
	})

	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
	))

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		writeResponse(logger, ctx, fasthttp.StatusNotFound, restResponse{Error: "not found"})
	}

	return r
}

func writeResponse(logger zerolog.Logger, ctx *fasthttp.RequestCtx, status int, response restResponse) {
	body, err := tetherjson.Marshal(response)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to process request")

		ctx.SetStatusCode(fasthttp.StatusInternalServerError)

		return
	}

	ctx.SetContentType("application/json;charset=UTF-8")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

// serveHTTP serves the status server until ctx is done.
func serveHTTP(ctx context.Context, logger zerolog.Logger, address string, client *tether.Client) error {
	logger = logger.With().Str("component", "http").Logger()

	r := newRouter(logger, client)

	server := &fasthttp.Server{
		Name: "Tether",
		Handler: func(ctx *fasthttp.RequestCtx) {
			r.Handler(ctx)

			logger.Debug().Msgf("%s %s %s %d",
				ctx.RemoteAddr(),
				ctx.Request.Header.Method(),
				ctx.Request.URI().Path(),
				ctx.Response.StatusCode())
		},
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Error().Str("host", address).Err(err).Msg("Failed to serve http server")

		return err
	}

	go func() {
		<-ctx.Done()

		if err := server.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("Failed to shut down http server")
		}
	}()

	logger.Info().Msgf("Serving http at %s", address)

	if err := server.Serve(listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
