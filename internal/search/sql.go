// Package search builds the injection-safe ClickHouse query behind the
// gateway's internal /search endpoint.
package search

import (
	"fmt"
	"strings"

	"github.com/hookline/gateway/internal/capture"
	"github.com/hookline/gateway/internal/csclient"
)

// Params is the decoded /search query string.
type Params struct {
	UserID string `validate:"required"`
	Plan   string `validate:"omitempty,oneof=free pro"`
	Slug   string
	Method string
	Q      string
	From   *int64
	To     *int64
	Limit  int `validate:"omitempty,min=1,max=200"`
	Offset int `validate:"omitempty,min=0,max=10000"`
	Order  string `validate:"omitempty,oneof=asc desc"`
}

const (
	defaultLimit = 50
	maxLimit     = 200
	maxOffset    = 10000
)

// SQLError distinguishes the two ways a search request can be malformed.
type SQLError string

func (e SQLError) Error() string { return string(e) }

const (
	ErrInvalidPlan SQLError = "invalid plan"
	ErrInvalidSlug SQLError = "invalid slug"
)

// freeRetentionClause returns the extra WHERE clause the free plan's 7-day
// retention window requires, or an error if plan is neither "free", "pro",
// nor empty.
func freeRetentionClause(plan string) (string, error) {
	switch plan {
	case "free":
		return "received_at >= now() - INTERVAL 7 DAY", nil
	case "pro", "":
		return "", nil
	default:
		return "", ErrInvalidPlan
	}
}

// BuildSQL renders the SELECT statement for a search request against the
// requests table in db, with every user-supplied value confined to a
// single-quoted string literal.
func BuildSQL(p Params, db string) (string, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := p.Offset
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	order := "DESC"
	if p.Order == "asc" {
		order = "ASC"
	}

	conditions := []string{fmt.Sprintf("user_id = '%s'", csclient.EscapeString(p.UserID))}

	retention, err := freeRetentionClause(p.Plan)
	if err != nil {
		return "", err
	}
	if retention != "" {
		conditions = append(conditions, retention)
	}

	if p.Slug != "" {
		if !capture.ValidSlug(p.Slug) {
			return "", ErrInvalidSlug
		}
		conditions = append(conditions, fmt.Sprintf("slug = '%s'", csclient.EscapeString(p.Slug)))
	}

	if p.Method != "" && p.Method != "ALL" {
		conditions = append(conditions, fmt.Sprintf("method = '%s'", csclient.EscapeString(p.Method)))
	}

	if p.Q != "" {
		escaped := csclient.EscapeString(p.Q)
		conditions = append(conditions, fmt.Sprintf(
			"(multiSearchAny(path, ['%s']) OR multiSearchAny(body, ['%s']) OR multiSearchAny(headers, ['%s']))",
			escaped, escaped, escaped,
		))
	}

	if p.From != nil {
		conditions = append(conditions, fmt.Sprintf("received_at >= toDateTime64('%s', 3, 'UTC')", csclient.EpochMsToDecimal(*p.From)))
	}
	if p.To != nil {
		conditions = append(conditions, fmt.Sprintf("received_at <= toDateTime64('%s', 3, 'UTC')", csclient.EpochMsToDecimal(*p.To)))
	}

	whereClause := strings.Join(conditions, " AND ")
	escapedDB := csclient.EscapeIdentifier(db)

	return fmt.Sprintf(
		"SELECT endpoint_id, slug, user_id, method, path, headers, body, query_params, ip, content_type, size, is_ephemeral, received_at "+
			"FROM `%s`.`requests` "+
			"WHERE %s "+
			"ORDER BY received_at %s "+
			"LIMIT %d OFFSET %d",
		escapedDB, whereClause, order, limit, offset,
	), nil
}
