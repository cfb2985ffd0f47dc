// Package capture implements the per-request capture pipeline: slug
// validation, endpoint resolution, expiry, quota enforcement, dedup, and
// durable buffering of the inbound request.
package capture

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/hookline/gateway/internal/httpresp"
	"github.com/hookline/gateway/internal/kv"
	"github.com/hookline/gateway/internal/telemetry"
	"github.com/hookline/gateway/internal/types"
)

// store is the subset of *kv.Store the capture handler depends on.
type store interface {
	GetEndpoint(ctx context.Context, slug string) (*types.EndpointInfo, error)
	SetEndpoint(ctx context.Context, slug string, info *types.EndpointInfo) error
	CheckQuota(ctx context.Context, slug, userID string) (kv.QuotaResult, error)
	SetQuota(ctx context.Context, slug string, remaining, limit int64, periodEnd int64, isUnlimited bool, userID string) error
	CheckDedup(ctx context.Context, slug, method, path, body, clientIP string) bool
	PushRequest(ctx context.Context, slug string, req *types.BufferedRequest) error
}

// cpClient is the subset of *cpclient.Client the capture handler depends on.
type cpClient interface {
	FetchAndCacheEndpoint(ctx context.Context, slug string) (*types.EndpointInfo, error)
	FetchAndCacheQuota(ctx context.Context, slug, userID string) (*types.QuotaResponse, error)
}

const maxBodyBytes = 100 * 1024

// Handler implements the capture pipeline.
type Handler struct {
	store  store
	cp     cpClient
	logger *slog.Logger
}

func New(store store, cp cpClient, logger *slog.Logger) *Handler {
	return &Handler{store: store, cp: cp, logger: logger}
}

// Mount registers the capture routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.HandleFunc("/w/{slug}", h.ServeHTTP)
	r.HandleFunc("/w/{slug}/*", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		telemetry.CaptureRequestsTotal.WithLabelValues(outcome).Inc()
		telemetry.CaptureDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	if !ValidSlug(slug) {
		outcome = "invalid_slug"
		httpresp.RespondError(w, http.StatusBadRequest, "invalid_slug")
		return
	}
	path := NormalizePath(chi.URLParam(r, "*"))

	info, optimistic, ok := h.resolveEndpoint(ctx, slug)
	if !ok {
		outcome = "not_found"
		httpresp.RespondError(w, http.StatusNotFound, "not_found")
		return
	}

	if info != nil && info.IsExpired() {
		outcome = "expired"
		httpresp.RespondError(w, http.StatusGone, "expired")
		return
	}

	if !optimistic {
		userID := ""
		if info != nil {
			userID = info.UserID
		}
		if !h.checkQuota(ctx, slug, userID) {
			outcome = "quota_exceeded"
			httpresp.RespondError(w, http.StatusTooManyRequests, "quota_exceeded")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		outcome = "read_error"
		httpresp.RespondError(w, http.StatusBadRequest, "read_error")
		return
	}
	bodyStr := utf8Lossy(body)

	clientIP := RealIP(r.Header)
	duplicate := !h.store.CheckDedup(ctx, slug, r.Method, path, bodyStr, clientIP)
	if duplicate {
		telemetry.DedupSkippedTotal.Inc()
		outcome = "duplicate"
	} else {
		req := buildBufferedRequest(r, path, bodyStr, clientIP)
		if err := h.store.PushRequest(ctx, slug, req); err != nil {
			h.logger.Error("buffering request failed", "slug", slug, "error", err)
		}
	}

	if info != nil && info.MockResponse != nil {
		WriteMockResponse(w, info.MockResponse)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// resolveEndpoint returns (info, optimistic, found). optimistic is true when
// the control plane couldn't be reached on a cache miss and the request is
// let through without a quota check rather than dropped. found is false only
// when the slug is confirmed not to exist.
func (h *Handler) resolveEndpoint(ctx context.Context, slug string) (info *types.EndpointInfo, optimistic bool, found bool) {
	cached, err := h.store.GetEndpoint(ctx, slug)
	if err != nil {
		h.logger.Warn("endpoint cache read failed, treating as miss", "slug", slug, "error", err)
		cached = nil
	}

	if cached != nil {
		if cached.Error == "not_found" {
			return nil, false, false
		}
		return cached, false, true
	}

	// Cache miss: warm the quota cache concurrently, with no dependency on
	// the blocking endpoint fetch below.
	go h.warmQuota(context.WithoutCancel(ctx), slug)

	fetched, err := h.cp.FetchAndCacheEndpoint(ctx, slug)
	if err != nil {
		h.logger.Warn("endpoint fetch failed, buffering optimistically", "slug", slug, "error", err)
		return nil, true, true
	}
	if fetched == nil {
		return nil, false, false
	}
	if fetched.Error == "" {
		if err := h.store.SetEndpoint(ctx, slug, fetched); err != nil {
			h.logger.Warn("caching endpoint failed", "slug", slug, "error", err)
		}
	}
	return fetched, false, true
}

func (h *Handler) warmQuota(ctx context.Context, slug string) {
	quota, err := h.cp.FetchAndCacheQuota(ctx, slug, "")
	if err != nil {
		h.logger.Debug("background quota warm failed", "slug", slug, "error", err)
		return
	}
	h.cacheQuota(ctx, slug, quota)
}

func (h *Handler) cacheQuota(ctx context.Context, slug string, quota *types.QuotaResponse) {
	if quota == nil || quota.Error != "" {
		return
	}
	periodEnd := int64(0)
	if quota.PeriodEnd != nil {
		periodEnd = *quota.PeriodEnd
	}
	isUnlimited := quota.Remaining == -1
	if err := h.store.SetQuota(ctx, slug, quota.Remaining, quota.Limit, periodEnd, isUnlimited, quota.UserID); err != nil {
		h.logger.Warn("caching quota failed", "slug", slug, "error", err)
	}
}

// checkQuota reports whether the request is allowed, fetching and caching a
// fresh quota on a first sighting and failing open on any KV or control
// plane hiccup.
func (h *Handler) checkQuota(ctx context.Context, slug, userID string) bool {
	res, err := h.store.CheckQuota(ctx, slug, userID)
	if err != nil {
		h.logger.Warn("quota check failed, failing open", "slug", slug, "error", err)
		return true
	}

	switch res {
	case kv.QuotaAllowed:
		return true
	case kv.QuotaExceeded:
		return false
	}

	quota, err := h.cp.FetchAndCacheQuota(ctx, slug, userID)
	if err != nil {
		h.logger.Warn("blocking quota fetch failed, failing open", "slug", slug, "error", err)
		return true
	}
	h.cacheQuota(ctx, slug, quota)

	res, err = h.store.CheckQuota(ctx, slug, userID)
	if err != nil {
		h.logger.Warn("quota recheck failed, failing open", "slug", slug, "error", err)
		return true
	}
	if res == kv.QuotaExceeded {
		return false
	}
	if res == kv.QuotaNotFound {
		h.logger.Warn("quota still not found after blocking fetch, failing open", "slug", slug)
	}
	return true
}

func buildBufferedRequest(r *http.Request, path, body, clientIP string) *types.BufferedRequest {
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		lower := strings.ToLower(key)
		if isProxyHeader(lower) || len(values) == 0 {
			continue
		}
		headers[lower] = values[0]
	}

	query := make(map[string]string, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	return &types.BufferedRequest{
		Method:      r.Method,
		Path:        path,
		Headers:     headers,
		Body:        body,
		QueryParams: query,
		IP:          clientIP,
		ReceivedAt:  types.NowMs(),
	}
}

func utf8Lossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
