// Package csclient talks to the column store (CS) that holds permanently
// ingested webhook requests: inserts from the flush workers, ad-hoc search
// queries, and retention deletes.
package csclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxResponseSize = 10 << 20 // 10MiB
	pingTimeout     = 3 * time.Second
)

// Client is the HTTP client to the column store's HTTP query interface.
type Client struct {
	httpClient *http.Client
	baseURL    string
	user       string
	password   string
	database   string
}

func New(baseURL, user, password, database string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
			},
		},
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		user:     user,
		password: password,
		database: database,
	}
}

// EscapeIdentifier doubles backticks so an identifier can be safely wrapped
// in backticks inside a query string.
func EscapeIdentifier(s string) string {
	return strings.ReplaceAll(s, "`", "``")
}

// EscapeString escapes backslashes and single quotes so a value can be
// safely wrapped in single quotes inside a query string.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

func (c *Client) requestsTable() string {
	return fmt.Sprintf("`%s`.`requests`", EscapeIdentifier(c.database))
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("X-ClickHouse-User", c.user)
	req.Header.Set("X-ClickHouse-Key", c.password)
}

// InsertRequests writes rows using the JSONEachRow line-delimited format.
// A nil or empty slice is a no-op.
func (c *Client) InsertRequests(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encoding row: %w", err)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", c.requestsTable())
	insertURL := fmt.Sprintf("%s/?query=%s", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, insertURL, &body)
	if err != nil {
		return fmt.Errorf("building insert request: %w", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling column store: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("column store insert returned HTTP %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// QueryRequests runs a raw SQL query and unwraps ClickHouse's default JSON
// envelope ({"data": [...], ...}) into plain rows.
func (c *Client) QueryRequests(ctx context.Context, sql string) ([]ResponseRow, error) {
	queryURL := c.baseURL + "/?default_format=JSON"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, strings.NewReader(sql))
	if err != nil {
		return nil, fmt.Errorf("building query request: %w", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling column store: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.ContentLength > maxResponseSize {
		return nil, fmt.Errorf("column store response declared %d bytes, limit is %d", resp.ContentLength, maxResponseSize)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading query response: %w", err)
	}
	if len(raw) > maxResponseSize {
		return nil, fmt.Errorf("column store response exceeded %d bytes", maxResponseSize)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("column store query returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var envelope jsonResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding query response: %w", err)
	}
	return envelope.Data, nil
}

// DeleteOldRequests issues an ALTER TABLE ... DELETE mutation removing rows
// older than retentionDays for the given user IDs.
func (c *Client) DeleteOldRequests(ctx context.Context, userIDs []string, retentionDays int) error {
	if len(userIDs) == 0 {
		return nil
	}

	escaped := make([]string, len(userIDs))
	for i, id := range userIDs {
		escaped[i] = "'" + EscapeString(id) + "'"
	}

	sql := fmt.Sprintf(
		"ALTER TABLE %s DELETE WHERE user_id IN (%s) AND received_at < now() - INTERVAL %d DAY",
		c.requestsTable(), strings.Join(escaped, ", "), retentionDays,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", strings.NewReader(sql))
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling column store: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("column store delete returned HTTP %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// Ping reports whether the column store is reachable.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type jsonResponse struct {
	Data []ResponseRow `json:"data"`
}
