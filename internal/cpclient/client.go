// Package cpclient talks to the control plane: the service of record for
// endpoint metadata, quota, and batch ingestion. Every call goes through the
// gateway's circuit breaker so a struggling control plane degrades the
// gateway gracefully instead of stalling every in-flight request behind it.
package cpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hookline/gateway/internal/breaker"
	"github.com/hookline/gateway/internal/types"
)

const (
	httpTimeout     = 30 * time.Second
	maxResponseSize = 1 << 20 // 1MiB
)

// Kind classifies a Client error so callers can decide whether to fail open,
// retry, or surface a client error to the caller.
type Kind int

const (
	KindCircuitOpen Kind = iota
	KindNetwork
	KindServerError
	KindClientError
	KindParseError
	KindResponseTooLarge
)

// Error is the error type every Client method returns.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if len(e.Msg) > 200 {
		return e.Msg[:200]
	}
	return e.Msg
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsCircuitOpen reports whether err means the breaker rejected the call
// outright, i.e. the control plane was never contacted.
func IsCircuitOpen(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCircuitOpen
}

// Client is the HTTP client to the control plane.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     string
	breaker    *breaker.Breaker
}

func New(baseURL, secret string, br *breaker.Breaker) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		breaker: br,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if !c.breaker.Allow(ctx) {
		return nil, newErr(KindCircuitOpen, "control plane circuit is open")
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, newErr(KindParseError, "marshalling request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, newErr(KindNetwork, "building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailureAsync(ctx)
		return nil, newErr(KindNetwork, "calling control plane: %v", err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailureAsync(ctx)
	default:
		c.breaker.RecordSuccessAsync(ctx)
	}

	return resp, nil
}

// readBody reads resp.Body with a dual content-length/actual-size guard
// against an oversized response, mirroring the control plane's own
// self-imposed response cap.
func readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.ContentLength > maxResponseSize {
		return nil, newErr(KindResponseTooLarge, "response declared %d bytes, limit is %d", resp.ContentLength, maxResponseSize)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, newErr(KindNetwork, "reading response body: %v", err)
	}
	if len(raw) > maxResponseSize {
		return nil, newErr(KindResponseTooLarge, "response body exceeded %d bytes", maxResponseSize)
	}
	return raw, nil
}

func classifyStatus(resp *http.Response, raw []byte) error {
	switch {
	case resp.StatusCode >= 500:
		return newErr(KindServerError, "control plane returned HTTP %d: %s", resp.StatusCode, raw)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return newErr(KindClientError, "control plane returned HTTP %d: %s", resp.StatusCode, raw)
	default:
		return nil
	}
}

// FetchAndCacheEndpoint fetches endpoint metadata for slug. A "not_found"
// error from the control plane is a legitimate miss, not a failure: it
// returns (nil, nil) and is never cached.
func (c *Client) FetchAndCacheEndpoint(ctx context.Context, slug string) (*types.EndpointInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/endpoint-info?slug="+slug, nil)
	if err != nil {
		return nil, err
	}

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp, raw); err != nil {
		return nil, err
	}

	var info types.EndpointInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, newErr(KindParseError, "decoding endpoint response: %v", err)
	}
	if info.Error == "not_found" {
		return nil, nil
	}
	return &info, nil
}

// FetchAndCacheQuota fetches the current quota for slug/userID. When the
// control plane reports needs_period_start, it falls through to
// callCheckPeriod to establish a fresh billing period before reporting the
// final quota.
func (c *Client) FetchAndCacheQuota(ctx context.Context, slug, userID string) (*types.QuotaResponse, error) {
	path := "/quota?slug=" + slug
	if userID != "" {
		path += "&userId=" + userID
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp, raw); err != nil {
		return nil, err
	}

	var quota types.QuotaResponse
	if err := json.Unmarshal(raw, &quota); err != nil {
		return nil, newErr(KindParseError, "decoding quota response: %v", err)
	}

	if quota.NeedsPeriodStart {
		period, err := c.callCheckPeriod(ctx, slug, userID)
		if err != nil {
			return nil, err
		}
		quota.Remaining = period.Remaining
		quota.Limit = period.Limit
		quota.PeriodEnd = period.PeriodEnd
		quota.NeedsPeriodStart = false
	}

	return &quota, nil
}

// callCheckPeriod asks the control plane to roll the quota to a new billing
// period. Both 200 (granted) and 429 (freshly rolled but already exceeded)
// are valid, parseable responses; anything else is an error.
func (c *Client) callCheckPeriod(ctx context.Context, slug, userID string) (*types.CheckPeriodResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/check-period", map[string]string{
		"userId": userID,
	})
	if err != nil {
		return nil, err
	}

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTooManyRequests {
		return nil, classifyStatus(resp, raw)
	}

	var period types.CheckPeriodResponse
	if err := json.Unmarshal(raw, &period); err != nil {
		return nil, newErr(KindParseError, "decoding check-period response: %v", err)
	}
	return &period, nil
}

// ListUsersByPlan lists user IDs on the given plan, one page at a time.
func (c *Client) ListUsersByPlan(ctx context.Context, plan string, cursor string, limit int) (*types.UsersByPlanResponse, error) {
	path := fmt.Sprintf("/users-by-plan?plan=%s&limit=%d", plan, limit)
	if cursor != "" {
		path += "&cursor=" + cursor
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp, raw); err != nil {
		return nil, err
	}

	var page types.UsersByPlanResponse
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, newErr(KindParseError, "decoding users-by-plan response: %v", err)
	}
	return &page, nil
}

// CaptureBatch posts a batch of buffered requests for permanent ingestion.
func (c *Client) CaptureBatch(ctx context.Context, payload types.BatchPayload) (*types.CaptureResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/capture-batch", payload)
	if err != nil {
		return nil, err
	}

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp, raw); err != nil {
		return nil, err
	}

	var result types.CaptureResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newErr(KindParseError, "decoding capture-batch response: %v", err)
	}
	return &result, nil
}
