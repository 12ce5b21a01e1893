package hubspot

import (
	"context"
	"net/url"
	"strconv"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/hubtap/pkg/errors"
)

// Page is one page of API results.
type Page struct {
	// Items are the raw records in this page
	Items []map[string]interface{}
	// Number is the 1-based page sequence number
	Number int
	// Cursor is the position that produced this page, empty for the first
	Cursor string
}

// Paginator walks an endpoint page by page. Next returns (nil, nil) once the
// endpoint is exhausted; it never yields the same position twice.
type Paginator interface {
	Next(ctx context.Context) (*Page, error)
}

// pagingMode selects the pagination protocol an endpoint speaks.
type pagingMode int

const (
	// modeCursor follows paging.next.after (v3 endpoints)
	modeCursor pagingMode = iota
	// modeOffset follows hasMore/offset (legacy v1 endpoints)
	modeOffset
	// modeSingle fetches exactly one page (unpaged endpoints)
	modeSingle
)

// ListPaginator pages through a GET list endpoint in either the v3 cursor
// protocol or the legacy offset protocol.
type ListPaginator struct {
	client   *Client
	path     string
	params   url.Values
	itemsKey string
	mode     pagingMode

	// cursor protocol
	after string

	// offset protocol
	offsetParam string
	hasMoreKey  string
	offsetKey   string
	offset      string

	page int
	done bool
}

// NewCursorPaginator creates a paginator for a v3 endpoint that returns
// results plus paging.next.after.
func NewCursorPaginator(client *Client, path string, params url.Values) *ListPaginator {
	return &ListPaginator{
		client:   client,
		path:     path,
		params:   params,
		itemsKey: "results",
		mode:     modeCursor,
	}
}

// NewOffsetPaginator creates a paginator for a legacy endpoint that returns
// hasMore plus an opaque offset. itemsKey names the array in the envelope
// ("results" for engagements, "events" for email events).
func NewOffsetPaginator(client *Client, path string, params url.Values, itemsKey string) *ListPaginator {
	return &ListPaginator{
		client:      client,
		path:        path,
		params:      params,
		itemsKey:    itemsKey,
		mode:        modeOffset,
		offsetParam: "offset",
		hasMoreKey:  "hasMore",
		offsetKey:   "offset",
	}
}

// NewSinglePagePaginator creates a paginator for an endpoint without paging.
func NewSinglePagePaginator(client *Client, path string, params url.Values, itemsKey string) *ListPaginator {
	return &ListPaginator{
		client:   client,
		path:     path,
		params:   params,
		itemsKey: itemsKey,
		mode:     modeSingle,
	}
}

// Next fetches the next page, or (nil, nil) when the endpoint is exhausted.
func (p *ListPaginator) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	query := url.Values{}
	for k, vs := range p.params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	cursor := ""
	switch p.mode {
	case modeCursor:
		if p.after != "" {
			query.Set("after", p.after)
			cursor = p.after
		}
	case modeOffset:
		if p.offset != "" {
			query.Set(p.offsetParam, p.offset)
			cursor = p.offset
		}
	}

	var envelope map[string]interface{}
	if err := p.client.Get(ctx, p.path, query, &envelope); err != nil {
		return nil, err
	}

	items, err := extractItems(envelope, p.itemsKey, p.path)
	if err != nil {
		return nil, err
	}

	p.page++
	page := &Page{
		Items:  items,
		Number: p.page,
		Cursor: cursor,
	}

	switch p.mode {
	case modeSingle:
		p.done = true

	case modeCursor:
		next := nextCursor(envelope)
		if next == "" {
			p.done = true
			break
		}
		if next == p.after {
			return nil, errors.New(errors.ErrorTypePagination, "cursor did not advance").
				WithDetail("path", p.path).
				WithDetail("cursor", next)
		}
		p.after = next

	case modeOffset:
		hasMore, _ := envelope[p.hasMoreKey].(bool)
		if !hasMore {
			p.done = true
			break
		}
		next, ok := scalarString(envelope[p.offsetKey])
		if !ok || next == "" {
			return nil, errors.New(errors.ErrorTypePagination, "more pages advertised without an offset").
				WithDetail("path", p.path)
		}
		if next == p.offset {
			return nil, errors.New(errors.ErrorTypePagination, "offset did not advance").
				WithDetail("path", p.path).
				WithDetail("offset", next)
		}
		p.offset = next
	}

	return page, nil
}

// ArrayPaginator fetches a legacy endpoint that answers with a bare JSON
// array instead of a paged envelope. It yields exactly one page.
type ArrayPaginator struct {
	client *Client
	path   string
	params url.Values
	done   bool
}

// NewArrayPaginator creates a single-shot paginator for an unenveloped
// array endpoint.
func NewArrayPaginator(client *Client, path string, params url.Values) *ArrayPaginator {
	return &ArrayPaginator{client: client, path: path, params: params}
}

// Next fetches the array as one page, then reports exhaustion.
func (p *ArrayPaginator) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}
	p.done = true

	var items []map[string]interface{}
	if err := p.client.Get(ctx, p.path, p.params, &items); err != nil {
		return nil, err
	}

	return &Page{Items: items, Number: 1}, nil
}

// extractItems pulls the record array out of a response envelope. A missing
// or malformed array is a protocol violation, not an empty page.
func extractItems(envelope map[string]interface{}, key, path string) ([]map[string]interface{}, error) {
	raw, ok := envelope[key]
	if !ok {
		return nil, errors.New(errors.ErrorTypePagination, "response missing result array").
			WithDetail("path", path).
			WithDetail("key", key)
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New(errors.ErrorTypePagination, "result array has unexpected shape").
			WithDetail("path", path).
			WithDetail("key", key)
	}

	items := make([]map[string]interface{}, 0, len(list))
	for _, entry := range list {
		item, ok := entry.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "result entry is not an object").
				WithDetail("path", path)
		}
		items = append(items, item)
	}
	return items, nil
}

// nextCursor extracts paging.next.after from a v3 envelope.
func nextCursor(envelope map[string]interface{}) string {
	paging, ok := envelope["paging"].(map[string]interface{})
	if !ok {
		return ""
	}
	next, ok := paging["next"].(map[string]interface{})
	if !ok {
		return ""
	}
	after, _ := next["after"].(string)
	return after
}

// scalarString normalizes an offset that may arrive as a string or a number.
// The pooled decoder delivers numbers as gojson.Number.
func scalarString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case gojson.Number:
		return s.String(), true
	case float64:
		return strconv.FormatInt(int64(s), 10), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case int:
		return strconv.Itoa(s), true
	default:
		return "", false
	}
}
