// Package okxclient provides a signed, retrying client for the OKX DEX aggregator API.
package okxclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

const successCode = "0"

// permanentCodes are application codes that will not change on retry
var permanentCodes = map[string]bool{
	"50014": true, // required parameter empty
	"51000": true, // parameter error
	"51001": true, // instrument does not exist
	"82000": true, // insufficient liquidity
	"82104": true, // token not supported
	"82112": true, // value difference too large
}

// envelope is the common response wrapper
type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e envelope) code() string {
	return strings.Trim(string(e.Code), `"`)
}

// Client is an OKX DEX API client
type Client struct {
	baseURL    string
	apiKey     string
	secretKey  string
	passphrase string
	projectID  string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     logger.Logger
	now        func() time.Time
}

// New creates a new client from aggregator credentials
func New(creds config.Credentials, log logger.Logger) *Client {
	maxRetries := creds.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(creds.BaseURL, "/"),
		apiKey:     creds.APIKey,
		secretKey:  creds.SecretKey,
		passphrase: creds.Passphrase,
		projectID:  creds.ProjectID,
		maxRetries: maxRetries,
		retryDelay: creds.RetryDelay,
		httpClient: createHTTPClient(creds.Timeout),
		logger:     log,
		now:        time.Now,
	}
}

// Sign computes base64(HMAC-SHA256(secret, timestamp+method+requestPath+body))
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// EncodeQuery renders params sorted by key so the signed string is deterministic
func EncodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

// Get issues a signed GET with query params
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, path, params)
}

// Post issues a signed POST with a JSON body
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, path, body)
}

// Request sends a signed request and returns the data field of a successful response.
// GET params must be a map[string]string; anything else is marshalled as a JSON body.
func (c *Client) Request(ctx context.Context, method, path string, params interface{}) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	requestPath, body, err := c.buildRequestPath(method, path, params)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, method+" "+path, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		start := time.Now()
		data, err := c.do(ctx, method, requestPath, body)
		metrics.RecordAggregatorRequest(path, err, time.Since(start))
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !isTransient(err) || attempt == c.maxRetries {
			break
		}

		delay := time.Duration(attempt) * c.retryDelay
		c.logger.Debug("Aggregator request %s %s failed (attempt %d/%d), retrying in %s: %v",
			method, path, attempt, c.maxRetries, delay, err)
		select {
		case <-ctx.Done():
			return nil, withRequestContext(swaperr.Wrap(swaperr.KindTransport, method+" "+path, ctx.Err()), method, path, params)
		case <-time.After(delay):
		}
	}

	return nil, withRequestContext(lastErr, method, path, params)
}

func (c *Client) buildRequestPath(method, path string, params interface{}) (string, []byte, error) {
	if method == http.MethodGet {
		var q map[string]string
		if params != nil {
			m, ok := params.(map[string]string)
			if !ok {
				return "", nil, fmt.Errorf("GET params must be map[string]string, got %T", params)
			}
			q = m
		}
		if qs := EncodeQuery(q); qs != "" {
			return path + "?" + qs, nil, nil
		}
		return path, nil, nil
	}

	if params == nil {
		return path, nil, nil
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return path, body, nil
}

func (c *Client) do(ctx context.Context, method, requestPath string, body []byte) (json.RawMessage, error) {
	op := method + " " + requestPath
	timestamp := c.now().UTC().Format("2006-01-02T15:04:05.000Z")

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindValidation, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", Sign(c.secretKey, timestamp, method, requestPath, string(body)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	if c.projectID != "" {
		req.Header.Set("OK-ACCESS-PROJECT", c.projectID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindTransport, op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error("Failed to close response body: %v", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindTransport, op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, swaperr.New(swaperr.KindTransport, op, "unexpected status code: %d, body: %s", resp.StatusCode, truncate(bodyBytes))
	}

	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil || len(env.Code) == 0 {
		if resp.StatusCode != http.StatusOK {
			return nil, swaperr.New(swaperr.KindApplication, op, "unexpected status code: %d, body: %s", resp.StatusCode, truncate(bodyBytes)).
				WithContext("permanent", "true")
		}
		return nil, swaperr.New(swaperr.KindTransport, op, "failed to decode response: %s", truncate(bodyBytes))
	}

	if code := env.code(); code != successCode {
		appErr := swaperr.New(swaperr.KindApplication, op, "code %s: %s", code, env.Msg).WithContext("code", code)
		if permanentCodes[code] || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			appErr.WithContext("permanent", "true")
		}
		return nil, appErr
	}

	return env.Data, nil
}

// isTransient reports whether a request error may succeed on retry
func isTransient(err error) bool {
	if swaperr.Is(err, swaperr.KindValidation) {
		return false
	}
	var se *swaperr.Error
	if errors.As(err, &se) && se.Context["permanent"] == "true" {
		return false
	}
	return true
}

func withRequestContext(err error, method, path string, params interface{}) error {
	var se *swaperr.Error
	if !errors.As(err, &se) {
		se = &swaperr.Error{Kind: swaperr.KindTransport, Op: method + " " + path, Err: err}
	}
	se.WithContext("method", method).WithContext("path", path)
	if params != nil {
		if raw, mErr := json.Marshal(params); mErr == nil {
			se.WithContext("params", string(raw))
		}
	}
	return se
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// createHTTPClient builds an HTTP client with connection pooling and a per-call timeout
func createHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
