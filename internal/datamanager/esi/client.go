// Package esi fetches killmails from the EVE Swagger Interface.
package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zkbarchive/zkb/internal/protocol"
)

const maxErrorBodySize = 512

type Config struct {
	// Base url of the ESI api, e.g. https://esi.evetech.net/latest
	BaseURL string `validate:"required,url"`
	// Sent with every request; ESI asks clients to identify themselves
	UserAgent string
	// Delay before the first retry; doubled after every further failure
	InitialBackoff time.Duration `validate:"gt=0"`
	// Upper bound of the delay between retries
	MaxBackoff time.Duration `validate:"gtefield=InitialBackoff"`
	// Number of attempts, including the first, before a killmail is given up; 0 means no limit
	MaxAttempts uint
	// Timeout of a single request
	RequestTimeout time.Duration
	// Client side rate limit; 0 means unlimited
	RequestsPerSecond float64 `validate:"gte=0"`
}

// ErrUnexpectedStatus is returned when ESI answers with a non-success status. It is the only failure
// that is retried.
type ErrUnexpectedStatus struct {
	Url        string
	StatusCode int
	Body       string
}

func (err *ErrUnexpectedStatus) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", err.StatusCode, err.Url, err.Body)
}

// Client fetches killmails by id and hash.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	config     Config
	onRetry    func(idHash protocol.IdHash, attempt uint, err error)
}

// NewClient creates a client. onRetry, if not nil, is called before every retry.
func NewClient(config Config, onRetry func(idHash protocol.IdHash, attempt uint, err error)) *Client {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		userAgent:  config.UserAgent,
		limiter:    rate.NewLimiter(limit, 1),
		config:     config,
		onRetry:    onRetry,
	}
}

// FetchKillmail downloads one killmail. Non-success responses are retried with exponential backoff
// up to MaxAttempts; transport and decoding failures are returned immediately.
func (c *Client) FetchKillmail(ctx context.Context, idHash protocol.IdHash) (*protocol.Killmail, error) {
	attempts := c.config.MaxAttempts
	if attempts == 0 {
		attempts = math.MaxUint32
	}
	var killmail *protocol.Killmail
	err := retry.Do(
		func() error {
			var err error
			killmail, err = c.fetchOnce(ctx, idHash)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.config.InitialBackoff),
		retry.MaxDelay(c.config.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Fetching killmail %s failed on attempt %d; retrying", idHash, n+1)
			if c.onRetry != nil {
				c.onRetry(idHash, n+1, err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return killmail, nil
}

// IsRetryable reports whether err is a transient fetch failure.
func IsRetryable(err error) bool {
	var statusErr *ErrUnexpectedStatus
	return errors.As(err, &statusErr)
}

func (c *Client) killmailURL(idHash protocol.IdHash) string {
	return fmt.Sprintf("%s/killmails/%d/%s/", c.baseURL, idHash.Id, idHash.Hash)
}

func (c *Client) fetchOnce(ctx context.Context, idHash protocol.IdHash) (*protocol.Killmail, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	url := c.killmailURL(idHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "error requesting %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, errors.WithStack(&ErrUnexpectedStatus{Url: url, StatusCode: resp.StatusCode, Body: string(body)})
	}

	killmail := &protocol.Killmail{}
	if err := json.NewDecoder(resp.Body).Decode(killmail); err != nil {
		return nil, errors.Wrapf(err, "error decoding killmail from %s", url)
	}
	return killmail, nil
}
