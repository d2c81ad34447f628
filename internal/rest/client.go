package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/internal/analytics"
	"github.com/WelcomerTeam/Tether/internal/netutil"
	"github.com/WelcomerTeam/Tether/internal/ratelimit"
	"github.com/WelcomerTeam/Tether/pkg/limiter"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

const (
	DefaultBaseURL = "https://discord.com/api/v10"

	// MaxAttempts bounds the attempts spent on transient failures.
	MaxAttempts = 5

	// MaxRateLimitedRetries bounds consecutive 429 retries, which do not
	// count as attempts.
	MaxRateLimitedRetries = 100
)

// TokenProvider supplies the token used to authorize requests. Requests
// are sent without authorization when the client has no provider.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string

	// TokenType prefixes the token in the Authorization header. Defaults to Bot.
	TokenType string

	// Proxy routes requests through an http, https or socks5 proxy.
	Proxy string

	// MaxRateLimitTimeout is the longest a request will wait on a 429 or a
	// bucket before failing. 0 waits as long as needed.
	MaxRateLimitTimeout time.Duration

	// MaxConcurrency limits requests in flight. 0 is unlimited.
	MaxConcurrency int

	HTTP *http.Client
}

// Client performs REST requests within the server's ratelimits.
type Client struct {
	Logger zerolog.Logger

	HTTP      *http.Client
	BaseURL   string
	UserAgent string
	TokenType string
	Token     TokenProvider

	Registry *ratelimit.Registry

	concurrency *limiter.ConcurrencyLimiter
}

// NewClient creates a client. The HTTP client in opts is copied before the
// proxy is applied.
func NewClient(logger zerolog.Logger, token TokenProvider, opts Options) (*Client, error) {
	httpClient := &http.Client{}
	if opts.HTTP != nil {
		*httpClient = *opts.HTTP
	}

	if opts.Proxy != "" {
		transport, err := newProxyTransport(opts.Proxy)
		if err != nil {
			return nil, err
		}

		httpClient.Transport = transport
	}

	c := &Client{
		Logger:    logger,
		HTTP:      httpClient,
		BaseURL:   strings.TrimSuffix(replaceIfEmpty(opts.BaseURL, DefaultBaseURL), "/"),
		UserAgent: opts.UserAgent,
		TokenType: replaceIfEmpty(opts.TokenType, "Bot"),
		Token:     token,
		Registry:  ratelimit.NewRegistry(logger, opts.MaxRateLimitTimeout),
	}

	if opts.MaxConcurrency > 0 {
		c.concurrency = limiter.NewConcurrencyLimiter("rest", opts.MaxConcurrency)
	}

	return c, nil
}

func newProxyTransport(rawURL string) (*http.Transport, error) {
	proxyURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy url: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch proxyURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy dialer: %w", err)
		}

		transport.Proxy = nil

		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	return transport, nil
}

// SetMaxRateLimitTimeout changes the ratelimit ceiling of every bucket.
func (c *Client) SetMaxRateLimitTimeout(timeout time.Duration) {
	c.Registry.SetMaxWait(timeout)
}

func (c *Client) MaxRateLimitTimeout() time.Duration {
	return c.Registry.MaxWait()
}

// IsRateLimited reports whether a request on route would currently wait.
func (c *Client) IsRateLimited(route Route) bool {
	return c.Registry.IsRateLimited(route)
}

// Close fails every request waiting on a ratelimit.
func (c *Client) Close() {
	c.Registry.Close()
}

type response struct {
	status int
	header http.Header
	body   []byte
	isJSON bool
}

// Do performs a request on route and returns the decoded body: a
// tetherjson.RawMessage for JSON responses and a string otherwise.
func (c *Client) Do(ctx context.Context, route Route, req *Request) (any, error) {
	body, err := prepareBody(req)
	if err != nil {
		return nil, err
	}

	var (
		lastErr     error
		rateLimited int
	)

	for attempt := 0; attempt < MaxAttempts; {
		bucket := c.Registry.Bucket(route)

		err = bucket.Acquire(ctx)
		if err != nil {
			var ceilingErr *ratelimit.CeilingExceededError
			if errors.As(err, &ceilingErr) {
				return nil, &RateLimitedError{RetryAfter: ceilingErr.RetryAfter}
			}

			return nil, fmt.Errorf("failed to acquire ratelimit: %w", err)
		}

		res, err := c.perform(ctx, route, req, body)
		if err != nil {
			if ctx.Err() == nil && netutil.IsConnectionReset(err) && attempt < MaxAttempts-1 {
				c.Logger.Debug().Err(err).Str("route", route.String()).Msg("Connection reset, retrying request")

				if err := c.sleep(ctx, transientDelay(attempt)); err != nil {
					return nil, err
				}

				attempt++

				continue
			}

			return nil, err
		}

		c.Registry.Update(route, res.header.Get(discord.HeaderRateLimitBucket), res.header, res.status)
		analytics.RecordRequest(route.Method(), route.Path(), res.status)

		outcome := classify(res.status)

		switch outcome {
		case OutcomeSuccess:
			c.Logger.Debug().Str("route", route.String()).Int("status", res.status).Msg("Request completed")

			if res.isJSON {
				return tetherjson.RawMessage(res.body), nil
			}

			return string(res.body), nil
		case OutcomeRateLimited:
			retryAfter, global, err := c.parseRateLimited(route, res)
			if err != nil {
				return nil, err
			}

			if global {
				analytics.RecordRateLimited("global")
				c.Registry.Global().Trip(retryAfter)
			} else {
				analytics.RecordRateLimited(replaceIfEmpty(res.header.Get(discord.HeaderRateLimitScope), "user"))
			}

			if maxWait := c.Registry.MaxWait(); maxWait > 0 && retryAfter > maxWait {
				c.Logger.Warn().
					Str("route", route.String()).
					Dur("retryAfter", retryAfter).
					Msg("Ratelimited for longer than the ratelimit timeout")

				return nil, &RateLimitedError{RetryAfter: retryAfter, Global: global}
			}

			rateLimited++
			if rateLimited > MaxRateLimitedRetries {
				return nil, &RateLimitedError{RetryAfter: retryAfter, Global: global}
			}

			c.Logger.Warn().
				Str("route", route.String()).
				Bool("global", global).
				Dur("retryAfter", retryAfter).
				Msg("Ratelimited, waiting before retrying")

			if err := c.sleep(ctx, retryAfter); err != nil {
				return nil, err
			}
		case OutcomeTransient:
			lastErr = newHTTPError(OutcomeServerError, res.status, res.body, res.isJSON)

			c.Logger.Debug().Str("route", route.String()).Int("status", res.status).Msg("Server error, retrying request")

			if attempt < MaxAttempts-1 {
				if err := c.sleep(ctx, transientDelay(attempt)); err != nil {
					return nil, err
				}
			}

			attempt++
		case OutcomeUnauthorized, OutcomeForbidden, OutcomeNotFound, OutcomeServerError, OutcomeHTTPError:
			return nil, newHTTPError(outcome, res.status, res.body, res.isJSON)
		}
	}

	return nil, lastErr
}

// DoJSON performs a request and unmarshals the response into out.
func (c *Client) DoJSON(ctx context.Context, route Route, req *Request, out any) error {
	result, err := c.Do(ctx, route, req)
	if err != nil {
		return err
	}

	raw, ok := result.(tetherjson.RawMessage)
	if !ok {
		return fmt.Errorf("expected json response from %s", route)
	}

	if out == nil {
		return nil
	}

	err = tetherjson.Unmarshal(raw, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// parseRateLimited reads the wait from a 429. A 429 that did not come from
// the API itself means the client has been banned by the edge and is
// returned as an error.
func (c *Client) parseRateLimited(route Route, res *response) (time.Duration, bool, error) {
	if res.header.Get("Via") == "" || !res.isJSON {
		c.Logger.Error().Str("route", route.String()).Msg("Received a 429 without API headers, the client may be banned")

		return 0, false, newHTTPError(OutcomeHTTPError, res.status, res.body, res.isJSON)
	}

	var body discord.TooManyRequests

	if err := tetherjson.Unmarshal(res.body, &body); err != nil {
		return 0, false, newHTTPError(OutcomeHTTPError, res.status, res.body, res.isJSON)
	}

	retryAfter := body.RetryAfter
	if retryAfter <= 0 {
		retryAfter, _ = strconv.ParseFloat(res.header.Get(discord.HeaderRetryAfter), 64)
	}

	global := body.Global || res.header.Get(discord.HeaderRateLimitGlobal) == "true"

	return time.Duration(retryAfter * float64(time.Second)), global, nil
}

func (c *Client) perform(ctx context.Context, route Route, req *Request, body *preparedBody) (*response, error) {
	if c.concurrency != nil {
		ticket, err := c.concurrency.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to wait for request slot: %w", err)
		}

		defer c.concurrency.FreeTicket(ticket)
	}

	reader, contentType, err := body.reader()
	if err != nil {
		return nil, err
	}

	target := c.BaseURL + route.ResolvedPath()
	if req != nil && len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, route.Method(), target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if req != nil {
		for key, values := range req.Header {
			httpReq.Header[key] = values
		}

		if req.Reason != "" {
			httpReq.Header.Set(discord.HeaderAuditLogReason, auditLogReason(req.Reason))
		}
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}

	if c.Token != nil && httpReq.Header.Get("Authorization") == "" {
		token, err := c.Token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve token: %w", err)
		}

		httpReq.Header.Set("Authorization", c.TokenType+" "+token)
	}

	c.Logger.Trace().Str("route", route.String()).Msg("Sending request")

	httpRes, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer httpRes.Body.Close()

	data, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(httpRes.Header.Get("Content-Type"))

	return &response{
		status: httpRes.StatusCode,
		header: httpRes.Header,
		body:   data,
		isJSON: mediaType == "application/json",
	}, nil
}

func transientDelay(attempt int) time.Duration {
	return time.Duration(1+attempt*2) * time.Second
}

// sleep waits between attempts. Closing the client ends the wait early.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Registry.Done():
		return ratelimit.ErrRegistryClosed
	}
}

func replaceIfEmpty(value, replacement string) string {
	if value == "" {
		return replacement
	}

	return value
}
