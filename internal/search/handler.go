package search

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hookline/gateway/internal/auth"
	"github.com/hookline/gateway/internal/csclient"
	"github.com/hookline/gateway/internal/httpresp"
	"github.com/hookline/gateway/internal/types"
)

const queryTimeout = 5 * time.Second

// validate enforces the shape of a /search request (plan, limit, order)
// before a SQL statement is ever built from it.
var validate = validator.New(validator.WithRequiredStructEnabled())

// querier is the subset of *csclient.Client the search handler depends on.
type querier interface {
	QueryRequests(ctx context.Context, sql string) ([]csclient.ResponseRow, error)
}

// Handler serves the internal /search endpoint.
type Handler struct {
	cs       querier // nil when ClickHouse is not configured
	database string
	secret   string
	logger   *slog.Logger
}

func New(cs querier, database, secret string, logger *slog.Logger) *Handler {
	return &Handler{cs: cs, database: database, secret: secret, logger: logger}
}

// Mount registers the /search route behind bearer auth.
func (h *Handler) Mount(r chi.Router) {
	r.Handle("/search", auth.RequireBearer(h.secret)(http.HandlerFunc(h.ServeHTTP)))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r.URL.Query())
	if err != nil {
		httpresp.Respond(w, http.StatusBadRequest, httpresp.ErrorBody{Error: err.Error()})
		return
	}
	if params.UserID == "" {
		httpresp.Respond(w, http.StatusBadRequest, httpresp.ErrorBody{Error: "user_id is required"})
		return
	}
	if err := validate.Struct(params); err != nil {
		httpresp.Respond(w, http.StatusBadRequest, httpresp.ErrorBody{Error: err.Error()})
		return
	}
	if h.cs == nil {
		httpresp.Respond(w, http.StatusServiceUnavailable, httpresp.ErrorBody{Error: "search not available"})
		return
	}

	sql, err := BuildSQL(params, h.database)
	if err != nil {
		httpresp.Respond(w, http.StatusBadRequest, httpresp.ErrorBody{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	results, err := h.cs.QueryRequests(ctx, sql)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Error("clickhouse search query timed out")
			httpresp.Respond(w, http.StatusGatewayTimeout, httpresp.ErrorBody{Error: "search query timed out"})
			return
		}
		h.logger.Error("clickhouse search query failed", "error", err)
		httpresp.Respond(w, http.StatusInternalServerError, httpresp.ErrorBody{Error: "search query failed"})
		return
	}

	out := make([]types.SearchResultRequest, len(results))
	for i, row := range results {
		out[i] = csclient.SearchResultFromRow(row)
	}

	httpresp.Respond(w, http.StatusOK, out)
}

func parseParams(q map[string][]string) (Params, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	p := Params{
		UserID: get("user_id"),
		Plan:   get("plan"),
		Slug:   get("slug"),
		Method: get("method"),
		Q:      get("q"),
		Order:  get("order"),
	}

	if v := get("from"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Params{}, errInvalidParam("from")
		}
		p.From = &n
	}
	if v := get("to"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Params{}, errInvalidParam("to")
		}
		p.To = &n
	}
	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Params{}, errInvalidParam("limit")
		}
		p.Limit = n
	}
	if v := get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Params{}, errInvalidParam("offset")
		}
		p.Offset = n
	}

	return p, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "invalid " + string(e) + " parameter" }
