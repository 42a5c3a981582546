package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"feedkeeper/pkg/config"
	"feedkeeper/pkg/logger"
	"feedkeeper/pkg/ratelimit"
	"feedkeeper/pkg/retry"
)

const (
	timelineEndpoint = "statuses/user_timeline.json"
	likesEndpoint    = "favorites/list.json"
	lookupEndpoint   = "statuses/lookup.json"

	// MaxPageSize is the largest count the feed accepts per page
	MaxPageSize = 200

	// MaxLookupIDs is the largest number of ids per lookup call
	MaxLookupIDs = 100
)

// Options configures a Client
type Options struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration

	// RequestsPerMinute paces requests client-side; zero disables pacing
	RequestsPerMinute int

	Retry  *retry.Config
	Logger logger.Logger

	// HTTPClient is the base transport; the bearer token is layered on top
	HTTPClient *http.Client
}

// OptionsFromConfig builds client options from the application settings
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	return Options{
		BaseURL:           cfg.Feed.BaseURL,
		Token:             cfg.Feed.Token,
		UserAgent:         cfg.Feed.UserAgent,
		Timeout:           cfg.Feed.Timeout,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Retry:             retry.FromConfig(cfg.Retry, log),
		Logger:            log,
	}
}

// Client talks to the remote feed API
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	pacer      ratelimit.Limiter
	retry      *retry.Config
	logger     logger.Logger
}

// NewClient creates a feed client. It fails when the base URL is unusable.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid feed base URL %q: scheme must be http or https", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		authed := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: opts.Token,
			TokenType:   "Bearer",
		}))
		authed.Timeout = httpClient.Timeout
		httpClient = authed
	}

	retryCfg := opts.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
		retryCfg.Logger = log
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = config.AppName
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		userAgent:  userAgent,
		pacer:      ratelimit.NewSlidingWindow(opts.RequestsPerMinute, time.Minute),
		retry:      retryCfg,
		logger:     log.WithField("component", "feed"),
	}, nil
}

// TimelineQuery selects one page of an author's timeline
type TimelineQuery struct {
	Handle string
	Count  int
	// MaxID is an inclusive upper bound; zero means none
	MaxID uint64
	// SinceID is an exclusive lower bound; zero means none
	SinceID uint64
}

// Timeline fetches one page of an author's timeline, newest first
func (c *Client) Timeline(ctx context.Context, q TimelineQuery) (*Page, error) {
	count := q.Count
	if count <= 0 || count > MaxPageSize {
		count = MaxPageSize
	}

	params := url.Values{}
	params.Set("screen_name", q.Handle)
	params.Set("count", strconv.Itoa(count))
	params.Set("include_rts", "true")
	params.Set("tweet_mode", "extended")
	if q.MaxID != 0 {
		params.Set("max_id", strconv.FormatUint(q.MaxID, 10))
	}
	if q.SinceID != 0 {
		params.Set("since_id", strconv.FormatUint(q.SinceID, 10))
	}

	return c.getPage(ctx, timelineEndpoint, params)
}

// Likes fetches the most recent page of an author's likes
func (c *Client) Likes(ctx context.Context, handle string) (*Page, error) {
	params := url.Values{}
	params.Set("screen_name", handle)
	params.Set("count", strconv.Itoa(MaxPageSize))
	params.Set("tweet_mode", "extended")

	return c.getPage(ctx, likesEndpoint, params)
}

// Lookup fetches up to MaxLookupIDs records by id. Ids the feed cannot
// return are absent from the page.
func (c *Client) Lookup(ctx context.Context, ids []uint64) (*Page, error) {
	if len(ids) > MaxLookupIDs {
		return nil, fmt.Errorf("lookup accepts at most %d ids, got %d", MaxLookupIDs, len(ids))
	}
	if len(ids) == 0 {
		return &Page{}, nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	params := url.Values{}
	params.Set("id", strings.Join(parts, ","))
	params.Set("tweet_mode", "extended")

	return c.getPage(ctx, lookupEndpoint, params)
}

func (c *Client) getPage(ctx context.Context, endpoint string, params url.Values) (*Page, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*Page, error) {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		return c.doGet(ctx, endpoint, params)
	})
}

func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values) (*Page, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: endpoint, RawQuery: params.Encode()})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Type: ErrorTypeUnknown, Message: err.Error(), Endpoint: endpoint}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WithError(err).WarnWithFields("feed request failed", map[string]interface{}{
			"endpoint": endpoint,
			"duration": time.Since(start),
		})
		return nil, &Error{Type: ErrorTypeNetwork, Message: err.Error(), Endpoint: endpoint}
	}
	defer resp.Body.Close()

	logger.LogRequest(c.logger, req.Method, endpoint, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Type:     ErrorTypeNetwork,
			Message:  fmt.Sprintf("failed to read response body: %v", err),
			Code:     resp.StatusCode,
			Endpoint: endpoint,
		}
	}

	if err := checkResponseStatus(resp.StatusCode, body, endpoint); err != nil {
		return nil, err
	}

	page, err := parsePage(body, endpoint)
	if err != nil {
		return nil, err
	}
	page.RateLimit = ratelimit.FromHeaders(resp.Header)
	return page, nil
}

// checkResponseStatus maps HTTP status codes to feed errors
func checkResponseStatus(code int, body []byte, endpoint string) error {
	newErr := func(t ErrorType, msg string) error {
		var api apiErrors
		if json.Unmarshal(body, &api) == nil && len(api.Errors) > 0 {
			msg = api.String()
		}
		return &Error{Type: t, Message: msg, Code: code, Endpoint: endpoint}
	}

	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized:
		return newErr(ErrorTypeAuth, "not authorized")
	case code == http.StatusForbidden:
		return newErr(ErrorTypeForbidden, "account is protected or suspended")
	case code == http.StatusNotFound:
		return newErr(ErrorTypeNotFound, "not found")
	case code == http.StatusTooManyRequests:
		return newErr(ErrorTypeRateLimit, "rate limit exceeded")
	case code >= 500:
		return newErr(ErrorTypeServerError, "server error")
	default:
		return newErr(ErrorTypeUnknown, fmt.Sprintf("unexpected status code: %d", code))
	}
}

func parsePage(body []byte, endpoint string) (*Page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var api apiErrors
		if err := json.Unmarshal(trimmed, &api); err == nil && len(api.Errors) > 0 {
			return nil, &Error{Type: ErrorTypeItem, Message: api.String(), Code: http.StatusOK, Endpoint: endpoint}
		}
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, &Error{
			Type:     ErrorTypeParsing,
			Message:  fmt.Sprintf("failed to parse JSON: %v", err),
			Code:     http.StatusOK,
			Endpoint: endpoint,
		}
	}

	page := &Page{Records: make([]Record, 0, len(elements))}
	for _, raw := range elements {
		r, err := ParseRecord(raw)
		if err != nil {
			return nil, &Error{Type: ErrorTypeParsing, Message: err.Error(), Code: http.StatusOK, Endpoint: endpoint}
		}
		page.Records = append(page.Records, r)
	}
	return page, nil
}
