package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// =============================================================================
// PAGINATION STRATEGIES
// =============================================================================

// Paginator handles API pagination.
type Paginator interface {
	// NextPage returns the request for the next page, or nil if done.
	NextPage(ctx context.Context, resp *Response) (*Request, error)
}

// =============================================================================
// OFFSET PAGINATION
// =============================================================================

// OffsetPaginator uses offset/limit pagination (HAL, Scopus).
type OffsetPaginator struct {
	Path        string
	Limit       int
	Offset      int
	Query       url.Values // Fixed query params repeated on every page
	OffsetKey   string     // Query param name (default: "start")
	LimitKey    string     // Query param name (default: "rows")
	TotalPath   string     // Dot path to total count (default: "response.numFound")
	ResultsPath string     // Dot path to results array (default: "response.docs")
	total       int
	fetched     int
}

// NewOffsetPaginator creates a new offset-based paginator.
func NewOffsetPaginator(path string, limit int, query url.Values) *OffsetPaginator {
	return &OffsetPaginator{
		Path:        path,
		Limit:       limit,
		Offset:      0,
		Query:       query,
		OffsetKey:   "start",
		LimitKey:    "rows",
		TotalPath:   "response.numFound",
		ResultsPath: "response.docs",
	}
}

// FirstPage returns the first page request.
func (p *OffsetPaginator) FirstPage() *Request {
	query := url.Values{}
	for k, vs := range p.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set(p.OffsetKey, strconv.Itoa(p.Offset))
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	return &Request{
		Method: "GET",
		Path:   p.Path,
		Query:  query,
	}
}

// NextPage returns the next page request based on response.
func (p *OffsetPaginator) NextPage(ctx context.Context, resp *Response) (*Request, error) {
	var data map[string]any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, err
	}

	if total, ok := lookupPath(data, p.TotalPath); ok {
		switch v := total.(type) {
		case float64:
			p.total = int(v)
		case int:
			p.total = v
		}
	}

	if results, ok := lookupPath(data, p.ResultsPath); ok {
		if arr, ok := results.([]any); ok {
			p.fetched += len(arr)
		}
	}

	if p.fetched >= p.total {
		return nil, nil
	}

	p.Offset = p.fetched
	return p.FirstPage(), nil
}

// =============================================================================
// CURSOR PAGINATION
// =============================================================================

// CursorPaginator uses cursor-based pagination (OpenAlex).
type CursorPaginator struct {
	Path           string
	Limit          int
	Query          url.Values // Fixed query params repeated on every page
	CursorKey      string     // Query param name (default: "cursor")
	LimitKey       string     // Query param name (default: "per-page")
	NextCursor     string     // Extracted from response; "*" requests the first page
	NextCursorPath string     // Dot path to next cursor (default: "meta.next_cursor")
}

// NewCursorPaginator creates a new cursor-based paginator.
func NewCursorPaginator(path string, limit int, query url.Values) *CursorPaginator {
	return &CursorPaginator{
		Path:           path,
		Limit:          limit,
		Query:          query,
		CursorKey:      "cursor",
		LimitKey:       "per-page",
		NextCursor:     "*",
		NextCursorPath: "meta.next_cursor",
	}
}

// FirstPage returns the first page request.
func (p *CursorPaginator) FirstPage() *Request {
	query := url.Values{}
	for k, vs := range p.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	if p.NextCursor != "" {
		query.Set(p.CursorKey, p.NextCursor)
	}
	return &Request{
		Method: "GET",
		Path:   p.Path,
		Query:  query,
	}
}

// NextPage returns the next page request based on response.
func (p *CursorPaginator) NextPage(ctx context.Context, resp *Response) (*Request, error) {
	var data map[string]any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, err
	}

	if cursor, ok := lookupPath(data, p.NextCursorPath); ok {
		if s, ok := cursor.(string); ok && s != "" {
			p.NextCursor = s
			return p.FirstPage(), nil
		}
	}

	return nil, nil
}

// lookupPath walks a dot-separated path through nested JSON objects.
func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// =============================================================================
// PAGINATED ITERATOR
// =============================================================================

// PaginatedIterator fetches all pages from an API and yields items one
// at a time.
type PaginatedIterator[T any] struct {
	ctx          context.Context
	client       *Client
	paginator    Paginator
	parseResults func(resp *Response) ([]T, error)

	current     []T
	currentIdx  int
	nextRequest *Request
	done        bool
	err         error
}

// NewPaginatedIterator creates a paginated iterator starting at
// firstRequest.
func NewPaginatedIterator[T any](
	ctx context.Context,
	client *Client,
	firstRequest *Request,
	paginator Paginator,
	parseResults func(resp *Response) ([]T, error),
) *PaginatedIterator[T] {
	return &PaginatedIterator[T]{
		ctx:          ctx,
		client:       client,
		paginator:    paginator,
		parseResults: parseResults,
		nextRequest:  firstRequest,
	}
}

// Next advances to the next item.
func (it *PaginatedIterator[T]) Next() bool {
	if it.currentIdx < len(it.current) {
		return true
	}

	if it.done || it.nextRequest == nil {
		return false
	}

	resp, err := it.client.Do(it.ctx, it.nextRequest)
	if err != nil {
		it.err = err
		return false
	}

	results, err := it.parseResults(resp)
	if err != nil {
		it.err = err
		return false
	}

	nextReq, err := it.paginator.NextPage(it.ctx, resp)
	if err != nil {
		it.err = err
		return false
	}

	it.current = results
	it.currentIdx = 0
	it.nextRequest = nextReq
	it.done = nextReq == nil

	return len(it.current) > 0
}

// Value returns the current item and advances the inner index.
func (it *PaginatedIterator[T]) Value() T {
	if it.currentIdx < len(it.current) {
		val := it.current[it.currentIdx]
		it.currentIdx++
		return val
	}
	var zero T
	return zero
}

// Err returns any error encountered.
func (it *PaginatedIterator[T]) Err() error {
	return it.err
}

// Close releases resources.
func (it *PaginatedIterator[T]) Close() error {
	it.done = true
	return nil
}
