// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package openapi

import (
	"context"
	"errors"
	"net/url"
	"strconv"
)

// ErrNoMorePages is returned by Pager.Next once the sequence is exhausted.
var ErrNoMorePages = errors.New("openapi: no more pages")

// Pager walks a paginated endpoint lazily from page 1 upward. It is finite
// and restartable from page 1 by constructing a new Pager; it is not
// resumable mid-stream. Not safe for concurrent use.
type Pager struct {
	client   *Client
	endpoint string
	params   url.Values
	pageSize int

	pageNo  int
	fetched int
	total   int
	done    bool
}

// Pages starts a lazy page sequence over endpoint. The client owns paging:
// pageNo and numOfRows in params are overridden.
func (c *Client) Pages(endpoint string, params url.Values) *Pager {
	return &Pager{
		client:   c,
		endpoint: endpoint,
		params:   params,
		pageSize: c.cfg.PageSize,
		pageNo:   1,
	}
}

// Next fetches the next page of items. It returns ErrNoMorePages when the
// sequence is exhausted: the last page returned fewer items than requested,
// the provider-declared total count was reached, or an empty page arrived.
func (p *Pager) Next(ctx context.Context) ([]Item, error) {
	if p.done {
		return nil, ErrNoMorePages
	}

	params := url.Values{}
	for k, vs := range p.params {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("pageNo", strconv.Itoa(p.pageNo))
	params.Set("numOfRows", strconv.Itoa(p.pageSize))

	page, err := p.client.Fetch(ctx, p.endpoint, params)
	if err != nil {
		return nil, err
	}

	p.total = page.TotalCount
	p.fetched += len(page.Items)
	p.pageNo++

	if len(page.Items) == 0 {
		// A zero-item page with nothing accumulated is a clean, empty
		// sequence, not an error.
		p.done = true
		return nil, ErrNoMorePages
	}
	if len(page.Items) < p.pageSize || (p.total > 0 && p.fetched >= p.total) {
		p.done = true
	}
	return page.Items, nil
}

// Fetched returns the number of items yielded so far.
func (p *Pager) Fetched() int { return p.fetched }

// TotalCount returns the provider-declared total, once known.
func (p *Pager) TotalCount() int { return p.total }

// FetchAllPages drains a page sequence into memory. Prefer Pages for large
// endpoints; this is a convenience for bounded result sets.
func (c *Client) FetchAllPages(ctx context.Context, endpoint string, params url.Values) ([]Item, error) {
	pager := c.Pages(endpoint, params)
	var all []Item
	for {
		items, err := pager.Next(ctx)
		if errors.Is(err, ErrNoMorePages) {
			return all, nil
		}
		if err != nil {
			return all, err
		}
		all = append(all, items...)
		if pager.done {
			return all, nil
		}
	}
}
