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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blacktop/polyglot/internal/logutil"
	"github.com/blacktop/polyglot/internal/note"
	"github.com/blacktop/polyglot/internal/publisher"
	"github.com/blacktop/polyglot/internal/watch"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newWatchCommand() *cobra.Command {
	var (
		debounce time.Duration
		every    time.Duration
		burst    int
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Publish smallpost notes as they are saved",
		Long: "watch follows a directory of markdown notes and publishes every note tagged " +
			"smallpost that is not yet marked published. Successful notes get " +
			"published: true written back to their frontmatter.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if burst < 1 {
				return fmt.Errorf("--burst must be at least 1, got %d", burst)
			}
			dir := args[0]
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defaults, err := cfg.Defaults()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p := publisher.New(cfg.Publisher())
			if err := p.Initialize(ctx); err != nil {
				return err
			}
			defer p.Cleanup(context.WithoutCancel(ctx))

			h := &noteHandler{publisher: p, defaults: defaults, out: cmd.OutOrStdout()}
			w := watch.New(dir, h.handle,
				watch.WithDebounce(debounce),
				watch.WithRateLimit(rate.Every(every), burst),
			)
			logutil.Infof("watching %s for smallpost notes (networks: %v)", dir, p.Networks())
			return w.Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a changed note is handled")
	cmd.Flags().DurationVar(&every, "every", watch.DefaultEvery, "Minimum spacing between publishes once the burst is spent")
	cmd.Flags().IntVar(&burst, "burst", watch.DefaultBurst, "Publishes allowed back to back")

	return cmd
}

// poster is the part of the publisher the note handler needs.
type poster interface {
	Publish(ctx context.Context, post xpost.Post, networks ...xpost.Network) xpost.Results
}

type noteHandler struct {
	publisher poster
	defaults  []xpost.Network
	out       io.Writer
}

func (h *noteHandler) handle(ctx context.Context, path string) error {
	n, err := note.Load(path)
	if err != nil {
		return err
	}
	if !n.IsSmallPost() {
		logutil.Debugf("skipping %s: not a smallpost", path)
		return nil
	}
	if n.Published() {
		logutil.Debugf("skipping %s: already published", path)
		return nil
	}

	post := n.Post()
	if post.Content == "" {
		return fmt.Errorf("note %s has no content", path)
	}
	networks, err := n.Networks()
	if err != nil {
		return err
	}
	if len(networks) == 0 {
		networks = h.defaults
	}

	results := h.publisher.Publish(ctx, post, networks...)
	fmt.Fprintf(h.out, "%s\n", path)
	if err := printResults(h.out, results, false); err != nil {
		return err
	}
	if err := publishFailure(results); err != nil {
		return err
	}
	return note.MarkPublished(path, time.Now())
}
