package list

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/objclient/pkg/storage"
)

func loc(p string) storage.Location { return storage.NewLocation("bkt", p) }

// scripted serves pages keyed by the token that requests them.
type scripted struct {
	pages  map[string]*storage.ListResult
	tokens []string
	fail   map[string]error
}

func (s *scripted) fetch(_ context.Context, token string) (*storage.ListResult, error) {
	s.tokens = append(s.tokens, token)
	if err := s.fail[token]; err != nil {
		return nil, err
	}
	page, ok := s.pages[token]
	if !ok {
		return nil, fmt.Errorf("unexpected token %q", token)
	}
	return page, nil
}

func TestCollectAll(t *testing.T) {
	tests := []struct {
		name         string
		pages        map[string]*storage.ListResult
		wantTokens   []string
		wantItems    []storage.Location
		wantPrefixes []storage.Location
	}{
		{
			name:       "single page",
			pages:      map[string]*storage.ListResult{"": {Items: []storage.Location{loc("a")}}},
			wantTokens: []string{""},
			wantItems:  []storage.Location{loc("a")},
		},
		{
			name: "concatenates in page order",
			pages: map[string]*storage.ListResult{
				"": {
					Prefixes:      []storage.Location{loc("p1")},
					Items:         []storage.Location{loc("a"), loc("b")},
					NextPageToken: "t1",
				},
				"t1": {
					Items:         []storage.Location{loc("c")},
					NextPageToken: "t2",
				},
				"t2": {
					Prefixes: []storage.Location{loc("p2")},
					Items:    []storage.Location{loc("d")},
				},
			},
			wantTokens:   []string{"", "t1", "t2"},
			wantItems:    []storage.Location{loc("a"), loc("b"), loc("c"), loc("d")},
			wantPrefixes: []storage.Location{loc("p1"), loc("p2")},
		},
		{
			name: "empty pages in between",
			pages: map[string]*storage.ListResult{
				"":   {NextPageToken: "t1"},
				"t1": {Items: []storage.Location{loc("x")}},
			},
			wantTokens: []string{"", "t1"},
			wantItems:  []storage.Location{loc("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scripted{pages: tt.pages}
			got, err := CollectAll(context.Background(), s.fetch)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTokens, s.tokens)
			assert.Equal(t, tt.wantItems, got.Items)
			assert.Equal(t, tt.wantPrefixes, got.Prefixes)
			assert.Empty(t, got.NextPageToken)
		})
	}
}

func TestCollectAllManyPages(t *testing.T) {
	const n = 10000
	s := &scripted{pages: map[string]*storage.ListResult{}}
	for i := 0; i < n; i++ {
		token := ""
		if i > 0 {
			token = fmt.Sprint(i)
		}
		page := &storage.ListResult{Items: []storage.Location{loc(fmt.Sprint(i))}}
		if i < n-1 {
			page.NextPageToken = fmt.Sprint(i + 1)
		}
		s.pages[token] = page
	}

	got, err := CollectAll(context.Background(), s.fetch)
	require.NoError(t, err)
	assert.Len(t, got.Items, n)
	assert.Equal(t, loc("9999"), got.Items[n-1])
}

func TestCollectAllError(t *testing.T) {
	boom := storage.NewError(storage.CodeUnauthorized, "denied")
	s := &scripted{
		pages: map[string]*storage.ListResult{"": {NextPageToken: "t1"}},
		fail:  map[string]error{"t1": boom},
	}

	got, err := CollectAll(context.Background(), s.fetch)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{"", "t1"}, s.tokens)
}

func TestCollectAllRepeatedToken(t *testing.T) {
	s := &scripted{pages: map[string]*storage.ListResult{
		"":   {NextPageToken: "t1"},
		"t1": {NextPageToken: "t1"},
	}}

	_, err := CollectAll(context.Background(), s.fetch)
	assert.Equal(t, storage.CodeInternalError, storage.CodeOf(err))
	assert.Equal(t, []string{"", "t1"}, s.tokens)
}

func TestCollectAllTokenCycle(t *testing.T) {
	s := &scripted{pages: map[string]*storage.ListResult{
		"":   {Items: []storage.Location{loc("a")}, NextPageToken: "t1"},
		"t1": {Items: []storage.Location{loc("b")}, NextPageToken: "t2"},
		"t2": {Items: []storage.Location{loc("c")}, NextPageToken: "t1"},
	}}

	_, err := CollectAll(context.Background(), s.fetch)
	assert.Equal(t, storage.CodeInternalError, storage.CodeOf(err))
	assert.Equal(t, []string{"", "t1", "t2"}, s.tokens)
}

func TestPagesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &scripted{pages: map[string]*storage.ListResult{
		"":   {Items: []storage.Location{loc("a")}, NextPageToken: "t1"},
		"t1": {Items: []storage.Location{loc("b")}},
	}}

	var seen int
	var lastErr error
	for page, err := range Pages(ctx, s.fetch) {
		if err != nil {
			lastErr = err
			break
		}
		seen += len(page.Items)
		cancel()
	}
	assert.Equal(t, 1, seen)
	assert.True(t, storage.IsCanceled(lastErr))
	assert.Equal(t, []string{""}, s.tokens)
}

func TestPagesEarlyBreak(t *testing.T) {
	s := &scripted{pages: map[string]*storage.ListResult{
		"":   {NextPageToken: "t1"},
		"t1": {},
	}}
	for range Pages(context.Background(), s.fetch) {
		break
	}
	assert.Equal(t, []string{""}, s.tokens)
}
