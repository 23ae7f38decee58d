package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/watch"
)

func TestPromoterShouldRender(t *testing.T) {
	t.Parallel()

	promoter := NewPromoter(2048)

	testCases := []struct {
		name string
		page *watch.Page
		want bool
	}{
		{name: "nil page", page: nil, want: false},
		{
			name: "non-200 never promotes",
			page: &watch.Page{StatusCode: 503, Body: ""},
			want: false,
		},
		{
			name: "empty body",
			page: &watch.Page{StatusCode: 200, Body: ""},
			want: true,
		},
		{
			name: "whitespace-only body",
			page: &watch.Page{StatusCode: 200, Body: "  \n\t  "},
			want: true,
		},
		{
			name: "thin script-heavy shell",
			page: &watch.Page{StatusCode: 200, Body: `<html><body><script>window.load("everything")</script><p>x</p></body></html>`},
			want: true,
		},
		{
			name: "react root marker",
			page: &watch.Page{StatusCode: 200, Body: `<html><body><div id="root"></div></body></html>`},
			want: true,
		},
		{
			name: "next.js marker",
			page: &watch.Page{StatusCode: 200, Body: `<html><body><div id="__next"></div></body></html>`},
			want: true,
		},
		{
			name: "vue app marker",
			page: &watch.Page{StatusCode: 200, Body: `<html><body><div id="app"></div></body></html>`},
			want: true,
		},
		{
			name: "react attribute marker",
			page: &watch.Page{StatusCode: 200, Body: `<html><body><div data-reactroot=""></div></body></html>`},
			want: true,
		},
		{
			name: "plain article",
			page: &watch.Page{StatusCode: 200, Body: "<html><body><p>" + strings.Repeat("words ", 50) + "</p></body></html>"},
			want: false,
		},
		{
			name: "large page with some scripts",
			page: &watch.Page{StatusCode: 200, Body: "<script>a()</script>" + strings.Repeat("content ", 1000)},
			want: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, promoter.ShouldRender(tc.page))
		})
	}
}

func TestScriptHeavy(t *testing.T) {
	t.Parallel()

	heavy := func(body string) bool {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		require.NoError(t, err)
		return scriptHeavy(doc, len(body))
	}

	require.False(t, heavy(""))
	require.False(t, heavy("no scripts at all, just a lot of plain prose going on and on"))
	require.True(t, heavy(`<script>everything()</script>`))
	require.True(t, heavy(`<SCRIPT SRC="x.js"></SCRIPT>`))
	// External bundles count by their tag markup, not only inline text.
	require.True(t, heavy(`<head><script src="https://cdn.example.com/app.bundle.js"></script></head>`))
	require.False(t, heavy("<script>a()</script>"+strings.Repeat("content ", 1000)))
}

func TestRenderingClientFetch(t *testing.T) {
	t.Parallel()

	plain := &watch.Page{StatusCode: 200, Body: `<div id="root"></div>`}
	rendered := &watch.Page{StatusCode: 200, Body: "<p>hydrated content</p>", UsedHeadless: true}

	t.Run("promotes flagged page", func(t *testing.T) {
		t.Parallel()
		primary := &fetcherStub{page: plain}
		renderer := &fetcherStub{page: rendered}
		client := NewRenderingClient(primary, renderer, NewPromoter(0), zap.NewNop())

		page, err := client.Fetch(context.Background(), "https://example.com")
		require.NoError(t, err)
		require.True(t, page.UsedHeadless)
		require.Equal(t, 1, renderer.calls())
	})

	t.Run("keeps plain page when not flagged", func(t *testing.T) {
		t.Parallel()
		full := &watch.Page{StatusCode: 200, Body: "<p>" + strings.Repeat("prose ", 500) + "</p>"}
		primary := &fetcherStub{page: full}
		renderer := &fetcherStub{page: rendered}
		client := NewRenderingClient(primary, renderer, NewPromoter(0), zap.NewNop())

		page, err := client.Fetch(context.Background(), "https://example.com")
		require.NoError(t, err)
		require.False(t, page.UsedHeadless)
		require.Equal(t, 0, renderer.calls())
	})

	t.Run("renderer failure falls back to plain page", func(t *testing.T) {
		t.Parallel()
		primary := &fetcherStub{page: plain}
		renderer := &fetcherStub{err: errors.New("browser crashed")}
		client := NewRenderingClient(primary, renderer, NewPromoter(0), zap.NewNop())

		page, err := client.Fetch(context.Background(), "https://example.com")
		require.NoError(t, err)
		require.Equal(t, plain.Body, page.Body)
	})

	t.Run("primary failure surfaces", func(t *testing.T) {
		t.Parallel()
		primary := &fetcherStub{err: errors.New("unreachable")}
		client := NewRenderingClient(primary, &fetcherStub{page: rendered}, NewPromoter(0), zap.NewNop())

		_, err := client.Fetch(context.Background(), "https://example.com")
		require.ErrorContains(t, err, "unreachable")
	})

	t.Run("nil renderer keeps plain page", func(t *testing.T) {
		t.Parallel()
		primary := &fetcherStub{page: plain}
		client := NewRenderingClient(primary, nil, nil, zap.NewNop())

		page, err := client.Fetch(context.Background(), "https://example.com")
		require.NoError(t, err)
		require.False(t, page.UsedHeadless)
	})
}

// --- fakes ---

type fetcherStub struct {
	mu    sync.Mutex
	page  *watch.Page
	err   error
	count int
}

func (f *fetcherStub) Fetch(ctx context.Context, rawURL string) (*watch.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.err != nil {
		return nil, f.err
	}
	page := *f.page
	page.URL = rawURL
	return &page, nil
}

func (f *fetcherStub) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
