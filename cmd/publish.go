/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/blacktop/polyglot/internal/config"
	"github.com/blacktop/polyglot/internal/publisher"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/blacktop/polyglot/internal/xpost/bluesky"
	"github.com/blacktop/polyglot/internal/xpost/mastodon"
	"github.com/blacktop/polyglot/internal/xpost/twitter"
)

var formatters = map[xpost.Network]func(xpost.Post) string{
	xpost.Bluesky:  bluesky.FormatText,
	xpost.Mastodon: mastodon.FormatText,
	xpost.Twitter:  twitter.FormatText,
}

// publishWithConfig runs one full publisher lifecycle for a single post.
func publishWithConfig(ctx context.Context, cfg *config.Config, post xpost.Post, opts map[xpost.Network]xpost.Options, targets []xpost.Network) (xpost.Results, error) {
	p := publisher.New(cfg.Publisher())
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	defer p.Cleanup(context.WithoutCancel(ctx))
	return p.PublishWithOptions(ctx, post, opts, targets...), nil
}

func printDryRun(out io.Writer, post xpost.Post, targets []xpost.Network) error {
	for _, network := range targets {
		format, ok := formatters[network]
		if !ok {
			return fmt.Errorf("no formatter for %s", network)
		}
		text := format(post)
		fmt.Fprintf(out, "[dry-run] would post to %s (%d chars):\n%s\n", network, utf8.RuneCountInString(text), text)
	}
	for _, a := range post.Attachments {
		fmt.Fprintf(out, "[dry-run] %s: %s (alt: %q)\n", a.Kind, a.URL, a.AltText)
	}
	return nil
}

type resultJSON struct {
	Network   string    `json:"network"`
	Success   bool      `json:"success"`
	PostID    string    `json:"post_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func printResults(out io.Writer, results xpost.Results, asJSON bool) error {
	networks := results.Networks()
	if asJSON {
		rows := make([]resultJSON, 0, len(networks))
		for _, n := range networks {
			r := results[n]
			rows = append(rows, resultJSON{
				Network:   n.String(),
				Success:   r.Success,
				PostID:    r.PostID,
				URL:       r.URL,
				Error:     r.Error(),
				Timestamp: r.Timestamp,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	for _, n := range networks {
		r := results[n]
		if r.Success {
			where := r.URL
			if where == "" {
				where = r.PostID
			}
			fmt.Fprintf(out, "✓ %s: %s\n", n, where)
			continue
		}
		fmt.Fprintf(out, "✗ %s: %s\n", n, r.Error())
	}
	return nil
}
