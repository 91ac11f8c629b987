package mastodon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/polyglot/internal/logutil"
	"github.com/blacktop/polyglot/internal/xpost"
	mastodonapi "github.com/mattn/go-mastodon"
)

const (
	// MaxLength is the default Mastodon status limit in characters.
	MaxLength = 500

	requestTimeout = 30 * time.Second
)

// Config contains the settings needed to reach a Mastodon server.
type Config struct {
	InstanceURL  string
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// Client wraps the Mastodon API client with polyglot semantics.
type Client struct {
	*xpost.Session

	cfg Config

	mu     sync.Mutex
	client *mastodonapi.Client
}

// New binds a Mastodon client to cfg.
func New(cfg Config) *Client {
	cfg.InstanceURL = strings.TrimRight(strings.TrimSpace(cfg.InstanceURL), "/")
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	return &Client{
		Session: xpost.NewSession(xpost.Mastodon),
		cfg:     cfg,
	}
}

// Initialize builds the authenticated REST handle.
func (c *Client) Initialize(ctx context.Context) error {
	if err := validateServer(c.cfg.InstanceURL); err != nil {
		return &xpost.InitializationError{Network: xpost.Mastodon, Err: err}
	}
	if c.cfg.AccessToken == "" {
		return &xpost.InitializationError{Network: xpost.Mastodon, Err: errors.New("access token is empty")}
	}

	client := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       c.cfg.InstanceURL,
		AccessToken:  c.cfg.AccessToken,
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})
	client.Timeout = requestTimeout

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.MarkReady()
	return nil
}

// Publish posts a new status to the configured Mastodon instance.
func (c *Client) Publish(ctx context.Context, post xpost.Post, opts *xpost.Options) xpost.Result {
	client, err := c.session()
	if err != nil {
		return xpost.Failed(xpost.Mastodon, err)
	}

	toot := &mastodonapi.Toot{
		Status:     FormatText(post),
		MediaIDs:   c.uploadMedia(ctx, client, post.Attachments),
		Visibility: string(xpost.VisibilityPublic),
	}
	if opts != nil {
		if opts.Visibility != "" {
			toot.Visibility = string(opts.Visibility)
		}
		toot.Sensitive = opts.Sensitive
		toot.Language = opts.Language
	}

	status, err := client.PostStatus(ctx, toot)
	if err != nil {
		return xpost.Failed(xpost.Mastodon, xpost.Wrap(xpost.Mastodon, "post status", err))
	}
	if status == nil {
		return xpost.Failed(xpost.Mastodon, &xpost.PlatformError{Network: xpost.Mastodon, Op: "post status", Err: errors.New("empty response")})
	}

	return xpost.Succeeded(xpost.Mastodon, string(status.ID), status.URL)
}

// VerifyCredentials calls accounts/verify_credentials.
func (c *Client) VerifyCredentials(ctx context.Context) bool {
	client, err := c.session()
	if err != nil {
		return false
	}
	account, err := client.GetAccountCurrentUser(ctx)
	if err != nil {
		logutil.Debugf("mastodon verify credentials: %v", err)
		return false
	}
	return account != nil && account.ID != ""
}

// Cleanup drops the REST handle.
func (c *Client) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()
	c.Reset()
	return nil
}

func (c *Client) session() (*mastodonapi.Client, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, &xpost.NotInitializedError{Network: xpost.Mastodon}
	}
	return c.client, nil
}

// uploadMedia uploads attachments one by one; failures are logged and the
// status is posted without them.
func (c *Client) uploadMedia(ctx context.Context, client *mastodonapi.Client, attachments []xpost.Attachment) []mastodonapi.ID {
	var ids []mastodonapi.ID
	for _, a := range attachments {
		media, err := xpost.LoadAttachment(ctx, xpost.Mastodon, a)
		if err != nil {
			logutil.Warnf("mastodon: failed to load %s: %v", a.URL, err)
			continue
		}
		attachment, err := client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
			File:        bytes.NewReader(media.Data),
			Description: media.AltText,
		})
		if err != nil {
			logutil.Warnf("mastodon: failed to upload %s: %v", a.URL, err)
			continue
		}
		ids = append(ids, attachment.ID)
	}
	return ids
}

// FormatText renders post content under Mastodon's rules: hashtags, then
// the source attribution, then the MaxLength cap.
func FormatText(post xpost.Post) string {
	text := xpost.AppendTags(post.Content, post.Metadata.Tags)
	text = xpost.AppendAttribution(text, post.Metadata.OriginalURL)
	return xpost.Truncate(text, MaxLength)
}

func validateServer(server string) error {
	if server == "" {
		return errors.New("instance url is empty")
	}
	u, err := url.Parse(server)
	if err != nil {
		return fmt.Errorf("invalid instance url: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("invalid instance url %q: want http(s)://host", server)
	}
	return nil
}
