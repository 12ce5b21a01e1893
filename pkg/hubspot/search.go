package hubspot

import (
	"context"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/errors"
)

// searchCap is the hard ceiling the CRM search API places on results per
// query. Paging past it fails, so the query window has to move instead.
const searchCap = 10000

// SearchRequest is the CRM search API request body.
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Sorts        []Sort        `json:"sorts"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

// FilterGroup is a conjunction of search filters.
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// Filter is a single property comparison.
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

// Sort orders search results by a property.
type Sort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

// SearchPaginator walks a CRM search endpoint ordered by a modification
// timestamp. When the cursor reaches the API's 10,000 result cap, the query
// window restarts from the highest timestamp seen so far with the cursor
// reset to zero; records keep flowing in timestamp order across restarts.
type SearchPaginator struct {
	client     *Client
	path       string
	property   string
	properties []string
	limit      int

	start time.Time
	end   time.Time

	after   int
	maxSeen time.Time

	page   int
	done   bool
	logger *zap.Logger
}

// NewSearchPaginator creates a search paginator over [start, end) for the
// given object search path (for example "/crm/v3/objects/contacts/search").
// property is the modification timestamp filtered and sorted on.
func NewSearchPaginator(client *Client, path, property string, properties []string, start, end time.Time, limit int, logger *zap.Logger) *SearchPaginator {
	if limit <= 0 {
		limit = 100
	}
	return &SearchPaginator{
		client:     client,
		path:       path,
		property:   property,
		properties: properties,
		limit:      limit,
		start:      start,
		end:        end,
		logger:     logger.With(zap.String("component", "search_paginator")),
	}
}

// Next fetches the next page, or (nil, nil) when the window is exhausted.
func (p *SearchPaginator) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	req := SearchRequest{
		FilterGroups: []FilterGroup{{
			Filters: []Filter{
				{PropertyName: p.property, Operator: "GTE", Value: strconv.FormatInt(ToMillis(p.start), 10)},
				{PropertyName: p.property, Operator: "LT", Value: strconv.FormatInt(ToMillis(p.end), 10)},
			},
		}},
		Sorts:      []Sort{{PropertyName: p.property, Direction: "ASCENDING"}},
		Properties: p.properties,
		Limit:      p.limit,
	}
	if p.after > 0 {
		req.After = strconv.Itoa(p.after)
	}

	var envelope map[string]interface{}
	if err := p.client.Post(ctx, p.path, req, &envelope); err != nil {
		return nil, err
	}

	items, err := extractItems(envelope, "results", p.path)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if ts, ok := recordTimestamp(item, p.property); ok && ts.After(p.maxSeen) {
			p.maxSeen = ts
		}
	}

	p.page++
	page := &Page{
		Items:  items,
		Number: p.page,
		Cursor: strconv.Itoa(p.after),
	}

	next := nextCursor(envelope)
	if next == "" {
		p.done = true
		return page, nil
	}

	nextAfter, err := strconv.Atoi(next)
	if err != nil {
		return nil, errors.New(errors.ErrorTypePagination, "search cursor is not numeric").
			WithDetail("path", p.path).
			WithDetail("cursor", next)
	}
	if nextAfter == p.after {
		return nil, errors.New(errors.ErrorTypePagination, "search cursor did not advance").
			WithDetail("path", p.path).
			WithDetail("cursor", next)
	}

	if nextAfter >= searchCap {
		// Restart the window past the records already seen.
		if !p.maxSeen.After(p.start) {
			return nil, errors.New(errors.ErrorTypePagination, "cannot advance window past result cap").
				WithDetail("path", p.path).
				WithDetail("window_start", p.start.Format(time.RFC3339))
		}
		p.logger.Info("search result cap reached, moving window",
			zap.String("path", p.path),
			zap.Time("new_start", p.maxSeen))
		p.start = p.maxSeen
		p.after = 0
		return page, nil
	}

	p.after = nextAfter
	return page, nil
}

// recordTimestamp reads the bookmark property from a search result's
// properties map.
func recordTimestamp(item map[string]interface{}, property string) (time.Time, bool) {
	props, ok := item["properties"].(map[string]interface{})
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(props[property])
}

// ParseTimestamp interprets a replication value that may arrive as an RFC
// 3339 string, an epoch milliseconds string, or an epoch milliseconds number.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return time.Time{}, false
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	case gojson.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		if f, err := t.Float64(); err == nil {
			return time.UnixMilli(int64(f)).UTC(), true
		}
		return time.Time{}, false
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	default:
		return time.Time{}, false
	}
}

// ToMillis converts a time to epoch milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}
