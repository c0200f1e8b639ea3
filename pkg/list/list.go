// Package list follows list continuation tokens until a listing is exhausted.
package list

import (
	"context"
	"fmt"
	"iter"

	"github.com/sgl-project/objclient/pkg/storage"
)

// PageFetcher fetches the page that starts at pageToken; "" is the first page.
type PageFetcher func(ctx context.Context, pageToken string) (*storage.ListResult, error)

// Pages yields pages in order, fetching the next one only after the previous one was
// consumed. Iteration stops after the first error. A continuation token seen
// earlier in the same listing is an error.
func Pages(ctx context.Context, fetch PageFetcher) iter.Seq2[*storage.ListResult, error] {
	return func(yield func(*storage.ListResult, error) bool) {
		token := ""
		seen := map[string]struct{}{}
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, storage.WrapError(storage.CodeCanceled, "listing canceled", err))
				return
			}
			page, err := fetch(ctx, token)
			if err != nil {
				yield(nil, err)
				return
			}
			if page == nil {
				page = &storage.ListResult{}
			}
			if !yield(page, nil) {
				return
			}
			if page.NextPageToken == "" {
				return
			}
			if _, dup := seen[page.NextPageToken]; dup {
				yield(nil, storage.NewError(storage.CodeInternalError,
					fmt.Sprintf("list continuation token %q repeated", page.NextPageToken)))
				return
			}
			seen[page.NextPageToken] = struct{}{}
			token = page.NextPageToken
		}
	}
}

// CollectAll accumulates every page into a single result without a continuation token.
func CollectAll(ctx context.Context, fetch PageFetcher) (*storage.ListResult, error) {
	acc := &storage.ListResult{}
	for page, err := range Pages(ctx, fetch) {
		if err != nil {
			return nil, err
		}
		acc.Prefixes = append(acc.Prefixes, page.Prefixes...)
		acc.Items = append(acc.Items, page.Items...)
	}
	return acc, nil
}
