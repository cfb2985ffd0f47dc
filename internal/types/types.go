// Package types holds the wire structs shared between the KV facade, the CP
// and CS clients, and the capture handler.
package types

import "time"

// NowMs returns the current time as epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// MockResponse is the canned reply an ephemeral endpoint can declare.
type MockResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// EndpointInfo is the cached metadata for a slug, as returned by the CP.
type EndpointInfo struct {
	EndpointID   string        `json:"endpointId"`
	UserID       string        `json:"userId,omitempty"`
	IsEphemeral  bool          `json:"isEphemeral"`
	ExpiresAt    *int64        `json:"expiresAt,omitempty"`
	MockResponse *MockResponse `json:"mockResponse,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// IsExpired reports whether the endpoint has a non-nil, past expiry.
func (e *EndpointInfo) IsExpired() bool {
	return e.ExpiresAt != nil && *e.ExpiresAt < NowMs()
}

// QuotaResponse is the CP's answer to GET /quota.
type QuotaResponse struct {
	Error            string `json:"error,omitempty"`
	UserID           string `json:"userId,omitempty"`
	Remaining        int64  `json:"remaining"`
	Limit            int64  `json:"limit"`
	PeriodEnd        *int64 `json:"periodEnd,omitempty"`
	Plan             string `json:"plan,omitempty"`
	NeedsPeriodStart bool   `json:"needsPeriodStart"`
}

// CheckPeriodResponse is the CP's answer to POST /check-period.
type CheckPeriodResponse struct {
	Error      string `json:"error,omitempty"`
	Remaining  int64  `json:"remaining"`
	Limit      int64  `json:"limit"`
	PeriodEnd  *int64 `json:"periodEnd,omitempty"`
	RetryAfter *int64 `json:"retryAfter,omitempty"`
}

// UsersByPlanResponse is one page of the CP's paginated user listing.
type UsersByPlanResponse struct {
	Error      string   `json:"error,omitempty"`
	UserIDs    []string `json:"userIds"`
	NextCursor *string  `json:"nextCursor,omitempty"`
	Done       bool     `json:"done"`
}

// BufferedRequest is the canonical captured payload, as stored in the KV
// buffer and posted to the CP in batches.
type BufferedRequest struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
	QueryParams map[string]string `json:"queryParams"`
	IP          string            `json:"ip"`
	ReceivedAt  int64             `json:"receivedAt"`
}

// BatchPayload is the POST /capture-batch request body.
type BatchPayload struct {
	Slug     string             `json:"slug"`
	Requests []BufferedRequest `json:"requests"`
}

// CaptureResponse is the CP's answer to POST /capture-batch.
type CaptureResponse struct {
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Inserted     int           `json:"inserted"`
	MockResponse *MockResponse `json:"mockResponse,omitempty"`
}

// SearchResultRequest is one row of a CS search response, in API-friendly form.
type SearchResultRequest struct {
	ID          string            `json:"id"`
	EndpointID  string            `json:"endpointId"`
	Slug        string            `json:"slug"`
	UserID      string            `json:"userId"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	Body        *string           `json:"body"`
	QueryParams map[string]string `json:"queryParams"`
	ContentType *string           `json:"contentType"`
	IP          string            `json:"ip"`
	Size        uint32            `json:"size"`
	IsEphemeral bool              `json:"isEphemeral"`
	ReceivedAt  float64           `json:"receivedAt"`
}
