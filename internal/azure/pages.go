package azure

import (
	"context"
	"fmt"
	"iter"
)

// Pages walks a nextLink-chained listing lazily. Each step issues one call
// under the client's retry policy; the sequence ends when nextLink returns ""
// or on the first error, which is yielded once. Ranging again restarts from
// the first URL.
func Pages[T any](ctx context.Context, c *Client, method, firstURL string, body any, nextLink func(*T) string) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		seen := make(map[string]bool)
		url := firstURL
		for url != "" {
			if seen[url] {
				yield(nil, fmt.Errorf("pagination loop: nextLink %s was already visited", url))
				return
			}
			seen[url] = true

			page := new(T)
			if err := c.DoJSON(ctx, Request{Method: method, URL: url, Body: body}, page); err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			url = nextLink(page)
		}
	}
}
