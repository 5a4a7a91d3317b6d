// Package brewersfriend pushes fermentation readings to the Brewer's Friend
// fermentation import API (https://docs.brewersfriend.com/api).
package brewersfriend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the fermentation import endpoint.
	DefaultBaseURL = "https://log.brewersfriend.com/fermentation/import"
	// MinInterval is the minimum time between pushes enforced by the service.
	MinInterval = 15 * time.Minute
	// deviceName identifies the readings in the Brewer's Friend session.
	deviceName = "fermenter"
)

var (
	// ErrTooSoon is returned when Update is called before the interval has passed.
	ErrTooSoon = errors.New("brewersfriend: not enough time since last update")
	// ErrRateLimited is returned when the service answers 429.
	ErrRateLimited = errors.New("brewersfriend: rate limited")
)

// APIError carries the detail message of a rejected request.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("brewersfriend: status %d", e.StatusCode)
	}
	return fmt.Sprintf("brewersfriend: status %d: %s", e.StatusCode, e.Detail)
}

// Reading is the payload accepted by the import endpoint.
type Reading struct {
	Name        string  `json:"name"`
	Temp        float64 `json:"temp"`
	TempUnit    string  `json:"temp_unit"`
	Gravity     float64 `json:"gravity,omitempty"`
	GravityUnit string  `json:"gravity_unit,omitempty"`
	Ambient     float64 `json:"ambient"`
}

// Client pushes readings for one brew session.
type Client struct {
	apiKey    string
	sessionID string
	interval  time.Duration
	baseURL   string
	http      *http.Client
	now       func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client. Intervals shorter than MinInterval are raised to it.
// The first push is allowed one minute after creation.
func New(apiKey, sessionID string, interval time.Duration, opts ...Option) *Client {
	if interval < MinInterval {
		interval = MinInterval
	}
	c := &Client{
		apiKey:    apiKey,
		sessionID: sessionID,
		interval:  interval,
		baseURL:   DefaultBaseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastAttempt = c.now().Add(-interval + time.Minute)
	return c
}

// Due reports whether enough time has passed for another push.
func (c *Client) Due() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastAttempt) >= c.interval
}

// Update pushes a reading. Temperatures are Celsius, gravity is specific
// gravity (0 when unknown).
func (c *Client) Update(ctx context.Context, beer, fridge, gravity float64) error {
	c.mu.Lock()
	if c.now().Sub(c.lastAttempt) < c.interval {
		c.mu.Unlock()
		return ErrTooSoon
	}
	c.lastAttempt = c.now()
	c.mu.Unlock()

	reading := Reading{
		Name:     deviceName,
		Temp:     beer,
		TempUnit: "C",
		Ambient:  fridge,
	}
	if gravity > 0 {
		reading.Gravity = gravity
		reading.GravityUnit = "G"
	}
	body, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, c.sessionID)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest, http.StatusUnauthorized:
		var msg struct {
			Detail string `json:"detail"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &msg)
		return &APIError{StatusCode: resp.StatusCode, Detail: msg.Detail}
	default:
		return &APIError{StatusCode: resp.StatusCode}
	}
}
