// Package apify launches and observes actor runs through the Apify REST API.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"outreach-engine/internal/provider"
)

type Config struct {
	BaseURL     string
	ScrapeActor string
	SendActor   string

	// WaitSeconds is how long one Poll lets the server hold the request open.
	WaitSeconds int

	RequestsPerSecond float64
	Burst             int
}

// ErrNoToken is returned before any request when no API token is available.
var ErrNoToken = errors.New("apify token not configured")

type Client struct {
	cfg   Config
	token func() string
	hc    *http.Client
	lim   *rate.Limiter
	log   *slog.Logger
}

// New builds a client. token is read on every request so a credential stored
// while the process runs is picked up.
func New(cfg Config, token func() string, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.apify.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.WaitSeconds <= 0 || cfg.WaitSeconds > 60 {
		cfg.WaitSeconds = 30
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:   cfg,
		token: token,
		hc:    &http.Client{Timeout: time.Duration(cfg.WaitSeconds+30) * time.Second},
		lim:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:   log.With("component", "apify"),
	}
}

// SetHTTPClient swaps the transport. Tests only.
func (c *Client) SetHTTPClient(hc *http.Client) { c.hc = hc }

type runData struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	StatusMessage    string `json:"statusMessage"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

type envelope struct {
	Data  *runData `json:"data"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) actorFor(kind provider.Kind) (string, error) {
	var actor string
	switch kind {
	case provider.KindScrape:
		actor = c.cfg.ScrapeActor
	case provider.KindSend:
		actor = c.cfg.SendActor
	}
	if actor == "" {
		return "", fmt.Errorf("no actor configured for %s jobs", kind)
	}
	// the REST API addresses "user/name" as "user~name"
	return strings.ReplaceAll(actor, "/", "~"), nil
}

func (c *Client) Launch(ctx context.Context, kind provider.Kind, input any, opts provider.LaunchOptions) (string, error) {
	actor, err := c.actorFor(kind)
	if err != nil {
		return "", &provider.LaunchError{Kind: kind, Message: err.Error(), Err: err}
	}
	body, err := json.Marshal(input)
	if err != nil {
		return "", &provider.LaunchError{Kind: kind, Message: "invalid job input", Err: err}
	}

	q := url.Values{}
	if opts.TimeoutSeconds > 0 {
		q.Set("timeout", strconv.Itoa(opts.TimeoutSeconds))
	}
	if opts.MemoryMB > 0 {
		q.Set("memory", strconv.Itoa(opts.MemoryMB))
	}
	u := c.cfg.BaseURL + "/v2/acts/" + url.PathEscape(actor) + "/runs"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	env, err := c.do(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", &provider.LaunchError{Kind: kind, Message: launchMessage(err), Err: err}
	}
	if env.Data == nil || env.Data.ID == "" {
		return "", &provider.LaunchError{Kind: kind, Message: "provider returned no run id"}
	}

	c.log.Info("launched", "kind", kind, "actor", actor, "handle", env.Data.ID)
	return env.Data.ID, nil
}

func (c *Client) Poll(ctx context.Context, handle string) (provider.RunState, error) {
	run, err := c.run(ctx, handle, c.cfg.WaitSeconds)
	if err != nil {
		return provider.RunState{}, err
	}
	return provider.RunState{State: MapStatus(run.Status), Message: run.StatusMessage}, nil
}

func (c *Client) Results(ctx context.Context, handle string) ([]provider.Item, error) {
	run, err := c.run(ctx, handle, 0)
	if err != nil {
		return nil, err
	}
	if run.DefaultDatasetID == "" {
		return nil, fmt.Errorf("run %s has no dataset", handle)
	}

	u := c.cfg.BaseURL + "/v2/datasets/" + url.PathEscape(run.DefaultDatasetID) + "/items?format=json&clean=true"
	b, err := c.raw(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var items []provider.Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", run.DefaultDatasetID, err)
	}
	return items, nil
}

func (c *Client) run(ctx context.Context, handle string, wait int) (*runData, error) {
	u := c.cfg.BaseURL + "/v2/actor-runs/" + url.PathEscape(handle)
	if wait > 0 {
		u += "?waitForFinish=" + strconv.Itoa(wait)
	}
	env, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, fmt.Errorf("run %s: empty response", handle)
	}
	return env.Data, nil
}

// MapStatus folds the provider's run statuses into the three states callers act on.
func MapStatus(s string) provider.State {
	switch strings.ToUpper(s) {
	case "SUCCEEDED":
		return provider.StateSucceeded
	case "FAILED", "TIMED-OUT", "ABORTED":
		return provider.StateFailed
	default:
		// READY, RUNNING, TIMING-OUT, ABORTING
		return provider.StateRunning
	}
}

// apiError is a non-2xx answer; Message comes from the provider's error body when present.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("apify status %d: %s", e.Status, e.Message)
}

func launchMessage(err error) string {
	var ae *apiError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*envelope, error) {
	b, err := c.raw(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", u, err)
	}
	return &env, nil
}

func (c *Client) raw(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	tok := ""
	if c.token != nil {
		tok = c.token()
	}
	if tok == "" {
		return nil, ErrNoToken
	}
	if err := c.lim.Wait(ctx); err != nil {
		// The limiter gives up early when the wait would outlast ctx's deadline.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify %s: %w", method, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("apify read body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		ae := &apiError{Status: res.StatusCode, Message: res.Status}
		var env envelope
		if json.Unmarshal(b, &env) == nil && env.Error != nil && env.Error.Message != "" {
			ae.Message = env.Error.Message
		}
		return nil, ae
	}
	return b, nil
}
