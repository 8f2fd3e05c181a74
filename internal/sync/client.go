package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/offline"
	"golang.org/x/time/rate"
)

const restEndpoint = "/webservice/rest/server.php"

// Client calls the web services of one site
type Client struct {
	siteURL    string
	token      string
	maxRetries int
	newBackOff func() backoff.BackOff
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *Cache
	logger     *loggy.Logger
}

// NewClient creates a client for the site described by cfg
func NewClient(cfg config.SiteConfig, logger *loggy.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		siteURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: newLimiter(cfg.RequestsPerMinute, cfg.BurstLimit),
		cache:   NewCache(cfg.CacheTTL),
		logger:  logger,
	}
}

// newLimiter creates a rate limiter from requests per minute and burst
func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	b := burst
	if b <= 0 {
		b = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), b)
}

// SiteURL returns the base URL of the site
func (c *Client) SiteURL() string {
	return c.siteURL
}

// Cache returns the read response cache
func (c *Client) Cache() *Cache {
	return c.cache
}

// SetToken replaces the web service token
func (c *Client) SetToken(token string) {
	c.token = token
}

// Read calls a read-only function. Responses are cached under tag and
// transport failures are retried.
func (c *Client) Read(ctx context.Context, function string, params map[string]any, tag string, out any) error {
	return c.read(ctx, function, params, tag, out, true)
}

// ReadFresh is Read without the cache lookup. The response still replaces
// the cached one.
func (c *Client) ReadFresh(ctx context.Context, function string, params map[string]any, tag string, out any) error {
	return c.read(ctx, function, params, tag, out, false)
}

func (c *Client) read(ctx context.Context, function string, params map[string]any, tag string, out any, useCache bool) error {
	form := FlattenParams(params)
	key := CacheKey(function, form)

	if useCache {
		if data, ok := c.cache.Get(key); ok {
			c.logger.Debug("Web service cache hit", "function", function)
			return decodeInto(function, data, out)
		}
	}

	var body []byte
	operation := func() error {
		data, err := c.call(ctx, function, form)
		if err != nil {
			if errors.Is(err, ErrServerRejected) || isSessionError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(), uint64(max(c.maxRetries, 0))),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}

	c.cache.Set(key, tag, body)
	return decodeInto(function, body, out)
}

// Write calls a function that changes site data. Writes are never retried.
func (c *Client) Write(ctx context.Context, function string, params map[string]any, out any) error {
	body, err := c.call(ctx, function, FlattenParams(params))
	if err != nil {
		return err
	}
	return decodeInto(function, body, out)
}

func (c *Client) call(ctx context.Context, function string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: function, Err: err}
	}

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.siteURL+restEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Calling web service", "function", function, "site", c.siteURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: function, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: function, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{Op: function, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	case resp.StatusCode >= 500:
		return nil, &TransportError{Op: function, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	case resp.StatusCode >= 400:
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		if exc := parseException(body); exc != nil {
			exc.StatusCode = resp.StatusCode
			apiErr = exc
		}
		c.logger.Warn("Web service rejected request", "function", function, "status", resp.StatusCode)
		return nil, apiErr
	}

	if exc := parseException(body); exc != nil {
		if exc.IsSessionError() {
			c.logger.Warn("Site unavailable for this session", "function", function, "errorcode", exc.ErrorCode)
			return nil, exc
		}
		c.logger.Warn("Web service exception", "function", function, "errorcode", exc.ErrorCode, "message", exc.Message)
		return nil, exc
	}

	return body, nil
}

// parseException returns the exception carried by body, if any
func parseException(body []byte) *APIError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var exc APIError
	if err := json.Unmarshal(trimmed, &exc); err != nil {
		return nil
	}
	if exc.Exception == "" && exc.ErrorCode == "" {
		return nil
	}
	return &exc
}

func decodeInto(function string, body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", function, err)
	}
	return nil
}

// FlattenParams encodes nested params the way web services expect them:
// {"data": [{"name": "a"}]} becomes data[0][name]=a.
func FlattenParams(params map[string]any) url.Values {
	values := url.Values{}
	for k, v := range params {
		flattenInto(values, k, v)
	}
	return values
}

func flattenInto(values url.Values, prefix string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(values, prefix+"["+k+"]", t[k])
		}
	case offline.Payload:
		flattenInto(values, prefix, map[string]any(t))
	case map[string]string:
		for k, s := range t {
			values.Set(prefix+"["+k+"]", s)
		}
	case []map[string]any:
		for i, item := range t {
			flattenInto(values, prefix+"["+strconv.Itoa(i)+"]", item)
		}
	case []any:
		for i, item := range t {
			flattenInto(values, prefix+"["+strconv.Itoa(i)+"]", item)
		}
	case []string:
		for i, s := range t {
			values.Set(prefix+"["+strconv.Itoa(i)+"]", s)
		}
	case []int64:
		for i, n := range t {
			values.Set(prefix+"["+strconv.Itoa(i)+"]", strconv.FormatInt(n, 10))
		}
	case bool:
		if t {
			values.Set(prefix, "1")
		} else {
			values.Set(prefix, "0")
		}
	case string:
		values.Set(prefix, t)
	case int:
		values.Set(prefix, strconv.Itoa(t))
	case int64:
		values.Set(prefix, strconv.FormatInt(t, 10))
	case float64:
		values.Set(prefix, strconv.FormatFloat(t, 'f', -1, 64))
	default:
		values.Set(prefix, fmt.Sprint(t))
	}
}

// Sites maps site IDs to their clients
type Sites struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewSites creates an empty site registry
func NewSites() *Sites {
	return &Sites{clients: make(map[string]*Client)}
}

// Add registers the client of a site, replacing any previous one
func (s *Sites) Add(siteID string, client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[siteID] = client
}

// Client returns the client of a site
func (s *Sites) Client(siteID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, siteID)
	}
	return c, nil
}

// IDs returns the registered site IDs, sorted
func (s *Sites) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClearCaches drops the cached responses of every site
func (s *Sites) ClearCaches() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.cache.Clear()
	}
}
