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
	"errors"
	"fmt"
	"strings"

	"github.com/blacktop/polyglot/internal/publisher"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the configured credentials against each network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p := publisher.New(cfg.Publisher())
			if len(p.Networks()) == 0 {
				return errors.New("no networks configured; run `polyglot configure` or set POLYGLOT_* variables")
			}
			if err := p.Initialize(ctx); err != nil {
				return err
			}
			defer p.Cleanup(context.WithoutCancel(ctx))

			valid := p.VerifyCredentials(ctx)
			networks := lo.Keys(valid)
			xpost.SortNetworks(networks)

			out := cmd.OutOrStdout()
			var bad []string
			for _, n := range networks {
				if valid[n] {
					fmt.Fprintf(out, "✓ %s: credentials valid\n", n)
					continue
				}
				fmt.Fprintf(out, "✗ %s: credentials rejected\n", n)
				bad = append(bad, n.String())
			}
			if len(bad) > 0 {
				return fmt.Errorf("invalid credentials for %s", strings.Join(bad, ", "))
			}
			return nil
		},
	}
}
