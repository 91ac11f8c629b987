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
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/blacktop/polyglot/internal/config"
	"github.com/blacktop/polyglot/internal/logutil"
	"github.com/blacktop/polyglot/internal/note"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	messageFlag    string
	fileFlag       string
	tagsFlag       []string
	urlFlag        string
	imagePath      string
	imageAlt       string
	targetsFlag    []string
	visibilityFlag string
	sensitiveFlag  bool
	langFlag       string
	dryRun         bool
	jsonOutput     bool

	configPath  string
	verboseFlag bool
)

const defaultAltText = "Image attached via polyglot"

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polyglot [message]",
		Short: "Publish one post to Bluesky, Mastodon and X at once",
		Long: "polyglot fans the same post out to every configured network and reports " +
			"the outcome per network. Provide the text as an argument, with --message, " +
			"on stdin, or as a markdown note with --file.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.SetVerbose(verboseFlag)
			config.LoadDotEnv()
		},
		RunE: runPost,
		Example: `  polyglot "Ship it!" --tag release
  polyglot --file notes/launch.md --target mastodon,bluesky
  echo "Release shipped" | polyglot --target all --visibility unlisted
  polyglot -m "hello" --image ./shot.png --alt-text "terminal" --dry-run`,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/polyglot/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "V", false, "Enable debug logging")

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Markdown note or text file to post")
	cmd.Flags().StringSliceVar(&tagsFlag, "tag", nil, "Hashtag to append (repeatable)")
	cmd.Flags().StringVar(&urlFlag, "url", "", "Original URL to attribute the post to")
	cmd.Flags().StringVar(&imagePath, "image", "", "Path or URL of an image to attach")
	cmd.Flags().StringVar(&imageAlt, "alt-text", "", "Alternative text to describe the image")
	cmd.Flags().StringSliceVarP(&targetsFlag, "target", "t", nil, "Networks to post to (bluesky, mastodon, twitter, or all)")
	cmd.Flags().StringVar(&visibilityFlag, "visibility", "", "Post visibility where supported (public, unlisted, private, direct)")
	cmd.Flags().BoolVar(&sensitiveFlag, "sensitive", false, "Mark attachments as sensitive where supported")
	cmd.Flags().StringVar(&langFlag, "lang", "", "ISO 639 language code of the post")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the formatted post per network without posting")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	cmd.Flags().SortFlags = false

	cmd.AddCommand(
		newWatchCommand(),
		newVerifyCommand(),
		newConfigureCommand(),
		newCompletionCommand(),
	)

	return cmd
}

// source is what the user asked to publish.
type source struct {
	post xpost.Post
	note *note.Note
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	src, err := resolveSource(cmd, args)
	if err != nil {
		return err
	}
	applyPostFlags(&src.post)

	targets, err := resolveTargets(cmd, src)
	if err != nil {
		return err
	}
	opts, err := publishOptions()
	if err != nil {
		return err
	}

	if dryRun {
		if len(targets) == 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if targets, err = configuredTargets(cfg); err != nil {
				return err
			}
			if len(targets) == 0 {
				targets = xpost.Networks()
			}
		}
		return printDryRun(out, src.post, targets)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		if targets, err = configuredTargets(cfg); err != nil {
			return err
		}
	}

	results, err := publishWithConfig(ctx, cfg, src.post, opts, targets)
	if err != nil {
		return err
	}
	if err := printResults(out, results, jsonOutput); err != nil {
		return err
	}

	if src.note != nil && results.AllSucceeded() {
		if err := note.MarkPublished(src.note.Path, time.Now()); err != nil {
			return err
		}
		logutil.Infof("marked %s as published", src.note.Path)
	}
	return publishFailure(results)
}

func resolveSource(cmd *cobra.Command, args []string) (source, error) {
	if fileFlag == "" {
		message, err := resolveMessage(cmd, args)
		if err != nil {
			return source{}, err
		}
		return source{post: xpost.Post{
			Content:  message,
			Metadata: xpost.Metadata{CreatedAt: time.Now(), Source: note.Source},
		}}, nil
	}

	if messageFlag != "" || len(args) > 0 {
		return source{}, errors.New("provide either a message or --file, not both")
	}

	switch strings.ToLower(filepath.Ext(fileFlag)) {
	case ".md", ".markdown":
		n, err := note.Load(fileFlag)
		if err != nil {
			return source{}, err
		}
		post := n.Post()
		if post.Content == "" {
			return source{}, fmt.Errorf("note %s has no content", fileFlag)
		}
		return source{post: post, note: n}, nil
	default:
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return source{}, fmt.Errorf("read %s: %w", fileFlag, err)
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			return source{}, fmt.Errorf("%s is empty", fileFlag)
		}
		base := filepath.Base(fileFlag)
		return source{post: xpost.Post{
			Content: content,
			Metadata: xpost.Metadata{
				Title:     strings.TrimSuffix(base, filepath.Ext(base)),
				CreatedAt: time.Now(),
				Source:    note.Source,
			},
		}}, nil
	}
}

func resolveMessage(cmd *cobra.Command, args []string) (string, error) {
	var message string

	if messageFlag != "" {
		message = messageFlag
	}

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); !ok || !term.IsTerminal(int(file.Fd())) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}

	if message == "" {
		return "", errors.New("message is required")
	}

	return message, nil
}

func applyPostFlags(post *xpost.Post) {
	extra := lo.FilterMap(tagsFlag, func(tag string, _ int) (string, bool) {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		return tag, tag != ""
	})
	if len(extra) > 0 {
		post.Metadata.Tags = lo.Uniq(append(append([]string(nil), post.Metadata.Tags...), extra...))
	}
	if u := strings.TrimSpace(urlFlag); u != "" {
		post.Metadata.OriginalURL = u
	}
	if imagePath != "" {
		alt := strings.TrimSpace(imageAlt)
		if alt == "" {
			alt = defaultAltText
		}
		post.Attachments = append(post.Attachments, xpost.Attachment{
			URL:     imagePath,
			Kind:    xpost.MediaImage,
			AltText: alt,
		})
	}
}

// resolveTargets prefers --target, then the note's networks. Nil means the
// caller should fall back to configuration.
func resolveTargets(cmd *cobra.Command, src source) ([]xpost.Network, error) {
	if cmd.Flags().Changed("target") {
		return normalizeTargets(targetsFlag)
	}
	if src.note != nil {
		networks, err := src.note.Networks()
		if err != nil {
			return nil, err
		}
		if len(networks) > 0 {
			xpost.SortNetworks(networks)
			return networks, nil
		}
	}
	return nil, nil
}

// configuredTargets returns default_networks, or every enabled network when
// that list is empty.
func configuredTargets(cfg *config.Config) ([]xpost.Network, error) {
	targets, err := cfg.Defaults()
	if err != nil || len(targets) > 0 {
		return targets, err
	}
	return cfg.Networks(), nil
}

func normalizeTargets(values []string) ([]xpost.Network, error) {
	if len(values) == 0 {
		return xpost.Networks(), nil
	}

	result := make([]xpost.Network, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return xpost.Networks(), nil
		}
		network, err := xpost.ParseNetwork(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, network)
	}

	if len(result) == 0 {
		return nil, errors.New("no targets selected")
	}

	result = lo.Uniq(result)
	xpost.SortNetworks(result)
	return result, nil
}

func publishOptions() (map[xpost.Network]xpost.Options, error) {
	visibility, err := xpost.ParseVisibility(visibilityFlag)
	if err != nil {
		return nil, err
	}
	opts := xpost.Options{
		Visibility: visibility,
		Sensitive:  sensitiveFlag,
		Language:   strings.TrimSpace(langFlag),
	}
	if opts == (xpost.Options{}) {
		return nil, nil
	}
	return lo.SliceToMap(xpost.Networks(), func(n xpost.Network) (xpost.Network, xpost.Options) {
		return n, opts
	}), nil
}

func loadConfig() (*config.Config, error) {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		return nil, err
	}
	logutil.Debugf("loading config from %s", path)
	return config.Load(path)
}

func publishFailure(results xpost.Results) error {
	if len(results) == 0 {
		return errors.New("no networks configured; run `polyglot configure` or set POLYGLOT_* variables")
	}
	if results.AllSucceeded() {
		return nil
	}
	failed := lo.Map(results.Failed(), func(n xpost.Network, _ int) string { return n.String() })
	return fmt.Errorf("failed to publish to %s", strings.Join(failed, ", "))
}
