// Package scrapertest provides a scripted Renderer for tests.
package scrapertest

import (
	"context"

	"classifieds-scraper/scraper"
)

// Response is what one Render call returns.
type Response struct {
	Title string
	DOM   string
	Err   error
}

// Renderer replays scripted responses per URL, in call order. When a URL's
// script runs out its last response is repeated.
type Renderer struct {
	Pages map[string][]Response

	Calls    []string
	Evasions int
	EvadeErr error
	Closed   int

	served map[string]int
}

// NewRenderer creates an empty scripted Renderer.
func NewRenderer() *Renderer {
	return &Renderer{Pages: map[string][]Response{}, served: map[string]int{}}
}

// On appends responses for url.
func (r *Renderer) On(url string, responses ...Response) *Renderer {
	r.Pages[url] = append(r.Pages[url], responses...)
	return r
}

func (r *Renderer) Render(ctx context.Context, url string, _ int) (*scraper.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.Calls = append(r.Calls, url)

	script := r.Pages[url]
	if len(script) == 0 {
		return &scraper.Snapshot{URL: url, DOM: "<html><body></body></html>"}, nil
	}
	i := r.served[url]
	if i >= len(script) {
		i = len(script) - 1
	}
	r.served[url]++

	resp := script[i]
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &scraper.Snapshot{URL: url, Title: resp.Title, DOM: resp.DOM}, nil
}

func (r *Renderer) Evade(context.Context) error {
	r.Evasions++
	return r.EvadeErr
}

func (r *Renderer) Close() {
	r.Closed++
}

var _ scraper.Renderer = (*Renderer)(nil)
