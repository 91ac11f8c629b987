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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blacktop/polyglot/internal/config"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/blacktop/polyglot/internal/xpost/bluesky"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newConfigureCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "configure [network...]",
		Short:     "Interactively store network credentials",
		Long:      "configure prompts for the credentials of each network and writes them to the config file with owner-only permissions. Press enter to keep the current value.",
		ValidArgs: []string{"bluesky", "mastodon", "twitter", "x", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			networks, err := normalizeTargets(args)
			if err != nil {
				return err
			}
			path, err := config.ResolvePath(configPath)
			if err != nil {
				return err
			}
			cfg, err := config.Read(path)
			if err != nil {
				return err
			}

			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			for _, network := range networks {
				fmt.Fprintf(p.out, "\n%s\n", network)
				if err := configureNetwork(p, cfg, network); err != nil {
					return err
				}
			}
			if cfg.DefaultVisibility, err = p.ask("default visibility (public, unlisted, private, direct)", cfg.DefaultVisibility, false); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(p.out, "saved %s\n", path)
			return nil
		},
	}
}

func configureNetwork(p *prompter, cfg *config.Config, network xpost.Network) error {
	var err error
	switch network {
	case xpost.Bluesky:
		b := lo.FromPtr(cfg.Bluesky)
		if b.Identifier, err = p.ask("handle or email", b.Identifier, false); err != nil {
			return err
		}
		if b.Password, err = p.ask("app password", b.Password, true); err != nil {
			return err
		}
		service := lo.Ternary(b.Service == "", bluesky.DefaultService, b.Service)
		if service, err = p.ask("PDS service", service, false); err != nil {
			return err
		}
		b.Service = lo.Ternary(service == bluesky.DefaultService, "", service)
		if b.Identifier != "" || b.Password != "" {
			cfg.Bluesky = &b
		}
	case xpost.Mastodon:
		m := lo.FromPtr(cfg.Mastodon)
		if m.InstanceURL, err = p.ask("instance URL", m.InstanceURL, false); err != nil {
			return err
		}
		if m.AccessToken, err = p.ask("access token", m.AccessToken, true); err != nil {
			return err
		}
		if m.InstanceURL != "" || m.AccessToken != "" {
			cfg.Mastodon = &m
		}
	case xpost.Twitter:
		t := lo.FromPtr(cfg.Twitter)
		if t.ConsumerKey, err = p.ask("consumer key", t.ConsumerKey, false); err != nil {
			return err
		}
		if t.ConsumerSecret, err = p.ask("consumer secret", t.ConsumerSecret, true); err != nil {
			return err
		}
		if t.AccessToken, err = p.ask("access token", t.AccessToken, false); err != nil {
			return err
		}
		if t.AccessTokenSecret, err = p.ask("access token secret", t.AccessTokenSecret, true); err != nil {
			return err
		}
		if t.ConsumerKey != "" || t.ConsumerSecret != "" || t.AccessToken != "" || t.AccessTokenSecret != "" {
			cfg.Twitter = &t
		}
	default:
		return fmt.Errorf("cannot configure %s", network)
	}
	return nil
}

// prompter reads answers line by line. Secrets are read without echo when
// the input is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &prompter{in: bufio.NewReader(in), out: out, fd: fd}
}

// ask returns current when the answer is blank or input has run out.
func (p *prompter) ask(label, current string, secret bool) (string, error) {
	hint := current
	if secret && current != "" {
		hint = "********"
	}
	if hint != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", label, hint)
	} else {
		fmt.Fprintf(p.out, "  %s: ", label)
	}

	var line string
	if secret && p.fd >= 0 {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		line = string(b)
	} else {
		var err error
		line, err = p.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
	}

	if line = strings.TrimSpace(line); line == "" {
		return current, nil
	}
	return line, nil
}
