package csclient

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hookline/gateway/internal/types"
)

// Row is one record as inserted into the column store, in JSONEachRow form.
// Headers and QueryParams are stored as JSON-encoded strings, not nested
// objects, so the `headers`/`query_params` columns stay plain strings that
// multiSearchAny can substring-search directly.
type Row struct {
	EndpointID  string `json:"endpoint_id"`
	Slug        string `json:"slug"`
	UserID      string `json:"user_id"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Headers     string `json:"headers"`
	Body        string `json:"body"`
	QueryParams string `json:"query_params"`
	IP          string `json:"ip"`
	ContentType string `json:"content_type"`
	BodySize    uint32 `json:"size"`
	IsEphemeral bool   `json:"is_ephemeral"`
	ReceivedAt  string `json:"received_at"` // ClickHouse Decimal64(3) literal, "secs.mmm"
}

// ResponseRow is one raw row as returned by a SELECT, before conversion to
// the API-friendly SearchResultRequest shape. Headers and QueryParams arrive
// as the same JSON-encoded strings Row wrote them as.
type ResponseRow struct {
	EndpointID  string `json:"endpoint_id"`
	Slug        string `json:"slug"`
	UserID      string `json:"user_id"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Headers     string `json:"headers"`
	Body        string `json:"body"`
	QueryParams string `json:"query_params"`
	IP          string `json:"ip"`
	ContentType string `json:"content_type"`
	Size        uint32 `json:"size"`
	IsEphemeral bool   `json:"is_ephemeral"`
	ReceivedAt  string `json:"received_at"`
}

const maxBodySize = ^uint32(0)

// RowFromBuffered converts a buffered request into its column-store row
// shape, deriving content type from a case-insensitive header lookup and
// endpoint_id/user_id/is_ephemeral from the endpoint's cached metadata.
func RowFromBuffered(slug string, req *types.BufferedRequest, endpoint *types.EndpointInfo) Row {
	contentType := ""
	for k, v := range req.Headers {
		if strings.EqualFold(k, "content-type") {
			contentType = v
			break
		}
	}

	size := uint64(len(req.Body))
	bodySize := maxBodySize
	if size <= uint64(maxBodySize) {
		bodySize = uint32(size)
	}

	headersJSON, err := json.Marshal(req.Headers)
	if err != nil {
		headersJSON = []byte("{}")
	}
	queryJSON, err := json.Marshal(req.QueryParams)
	if err != nil {
		queryJSON = []byte("{}")
	}

	return Row{
		EndpointID:  endpoint.EndpointID,
		Slug:        slug,
		UserID:      endpoint.UserID,
		Method:      req.Method,
		Path:        req.Path,
		Headers:     string(headersJSON),
		Body:        req.Body,
		QueryParams: string(queryJSON),
		IP:          req.IP,
		ContentType: contentType,
		BodySize:    bodySize,
		IsEphemeral: endpoint.IsEphemeral,
		ReceivedAt:  EpochMsToDecimal(req.ReceivedAt),
	}
}

// SearchResultFromRow converts a raw ClickHouse response row into the
// API-friendly shape returned by /search: headers/query_params are parsed
// back out of their JSON-string columns, body/content_type collapse to nil
// when empty, and a stable synthetic ID is derived from the fields that
// together identify a unique request.
func SearchResultFromRow(row ResponseRow) types.SearchResultRequest {
	var headers map[string]string
	if err := json.Unmarshal([]byte(row.Headers), &headers); err != nil {
		headers = map[string]string{}
	}
	var queryParams map[string]string
	if err := json.Unmarshal([]byte(row.QueryParams), &queryParams); err != nil {
		queryParams = map[string]string{}
	}

	var body *string
	if row.Body != "" {
		b := row.Body
		body = &b
	}
	var contentType *string
	if row.ContentType != "" {
		c := row.ContentType
		contentType = &c
	}

	receivedAtMs, err := ParseReceivedAt(row.ReceivedAt)
	if err != nil {
		receivedAtMs = 0
	}

	h := sha256.New()
	h.Write([]byte(row.Method))
	h.Write([]byte{0})
	h.Write([]byte(row.Path))
	h.Write([]byte{0})
	h.Write([]byte(row.Headers))
	h.Write([]byte{0})
	h.Write([]byte(row.Body))
	h.Write([]byte{0})
	h.Write([]byte(row.QueryParams))
	h.Write([]byte{0})
	h.Write([]byte(row.IP))
	digest := h.Sum(nil)
	hashSuffix := binary.LittleEndian.Uint64(digest[:8])
	id := fmt.Sprintf("%s:%d:%016x", row.Slug, receivedAtMs, hashSuffix)

	return types.SearchResultRequest{
		ID:          id,
		EndpointID:  row.EndpointID,
		Slug:        row.Slug,
		UserID:      row.UserID,
		Method:      row.Method,
		Path:        row.Path,
		Headers:     headers,
		Body:        body,
		QueryParams: queryParams,
		ContentType: contentType,
		IP:          row.IP,
		Size:        row.Size,
		IsEphemeral: row.IsEphemeral,
		ReceivedAt:  float64(receivedAtMs),
	}
}

// EpochMsToDecimal converts epoch milliseconds into a ClickHouse
// Decimal64(3)-compatible literal "{secs}.{ms:03}", using Euclidean
// division so negative timestamps (pre-1970) produce a correctly-signed,
// always-positive fractional part (e.g. -1ms -> "-1.999").
func EpochMsToDecimal(ms int64) string {
	const msPerSec = 1000
	secs := floorDiv(ms, msPerSec)
	frac := floorMod(ms, msPerSec)
	return fmt.Sprintf("%d.%03d", secs, frac)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((a < 0) != (b < 0)) {
		m += b
	}
	return m
}
