package bluesky

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/polyglot/internal/logutil"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	// DefaultService is the PDS used when none is configured.
	DefaultService = "https://bsky.social"
	// MaxLength is the Bluesky post limit in characters.
	MaxLength = 300

	maxImages      = 4
	requestTimeout = 30 * time.Second
	userAgent      = "polyglot/1"
	postCollection = "app.bsky.feed.post"
	tagFacetType   = "app.bsky.richtext.facet#tag"
)

// Config holds Bluesky account credentials.
type Config struct {
	Identifier string
	Password   string
	Service    string
}

// Client implements xpost.Client for Bluesky.
type Client struct {
	*xpost.Session

	cfg        Config
	httpClient *http.Client

	mu     sync.Mutex
	client *xrpc.Client
}

// New binds a Bluesky client to cfg. No network traffic happens until Initialize.
func New(cfg Config) *Client {
	cfg.Identifier = strings.TrimSpace(cfg.Identifier)
	cfg.Service = strings.TrimRight(strings.TrimSpace(cfg.Service), "/")
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	return &Client{
		Session:    xpost.NewSession(xpost.Bluesky),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Initialize logs in and keeps the resulting session.
func (c *Client) Initialize(ctx context.Context) error {
	ua := userAgent
	xrpcClient := &xrpc.Client{
		Client:    c.httpClient,
		Host:      c.cfg.Service,
		UserAgent: &ua,
	}

	session, err := atproto.ServerCreateSession(ctx, xrpcClient, &atproto.ServerCreateSession_Input{
		Identifier: c.cfg.Identifier,
		Password:   c.cfg.Password,
	})
	if err != nil {
		return &xpost.InitializationError{Network: xpost.Bluesky, Err: fmt.Errorf("login: %w", err)}
	}

	xrpcClient.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}

	c.mu.Lock()
	c.client = xrpcClient
	c.mu.Unlock()
	c.MarkReady()

	logutil.Debugf("bluesky session created: handle=%s did=%s", session.Handle, session.Did)
	return nil
}

// Publish creates a new Bluesky post.
func (c *Client) Publish(ctx context.Context, post xpost.Post, opts *xpost.Options) xpost.Result {
	client, err := c.session()
	if err != nil {
		return xpost.Failed(xpost.Bluesky, err)
	}

	record := &bsky.FeedPost{
		LexiconTypeID: postCollection,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Text:          FormatText(post),
		Facets:        tagFacets(post),
	}
	if opts != nil && opts.Language != "" {
		record.Langs = []string{opts.Language}
	}
	if embed := c.embedImages(ctx, client, post.Attachments); embed != nil {
		record.Embed = &bsky.FeedPost_Embed{EmbedImages: embed}
	}

	out, err := atproto.RepoCreateRecord(ctx, client, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: record},
	})
	if err != nil {
		return xpost.Failed(xpost.Bluesky, xpost.Wrap(xpost.Bluesky, "create record", err))
	}

	return xpost.Succeeded(xpost.Bluesky, out.Uri, postURL(client.Auth.Handle, c.cfg.Identifier, out.Uri))
}

// VerifyCredentials fetches the logged-in profile.
func (c *Client) VerifyCredentials(ctx context.Context) bool {
	client, err := c.session()
	if err != nil {
		return false
	}
	profile, err := bsky.ActorGetProfile(ctx, client, client.Auth.Did)
	if err != nil {
		logutil.Debugf("bluesky verify credentials: %v", err)
		return false
	}
	return profile != nil && profile.Did != ""
}

// Cleanup logs out and drops the session. The client is reset even when
// the remote logout fails.
func (c *Client) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	c.Reset()

	if client == nil || client.Auth == nil {
		return nil
	}

	// deleteSession authenticates with the refresh token.
	logout := *client
	logout.Auth = &xrpc.AuthInfo{
		AccessJwt:  client.Auth.RefreshJwt,
		RefreshJwt: client.Auth.RefreshJwt,
		Handle:     client.Auth.Handle,
		Did:        client.Auth.Did,
	}
	if err := atproto.ServerDeleteSession(ctx, &logout); err != nil {
		return &xpost.CleanupError{Network: xpost.Bluesky, Err: fmt.Errorf("delete session: %w", err)}
	}
	return nil
}

func (c *Client) session() (*xrpc.Client, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || c.client.Auth == nil {
		return nil, &xpost.NotInitializedError{Network: xpost.Bluesky}
	}
	return c.client, nil
}

func (c *Client) embedImages(ctx context.Context, client *xrpc.Client, attachments []xpost.Attachment) *bsky.EmbedImages {
	var images []*bsky.EmbedImages_Image
	for _, a := range attachments {
		if len(images) == maxImages {
			logutil.Debugf("bluesky: skipping attachments beyond %d images", maxImages)
			break
		}
		if a.Kind != "" && a.Kind != xpost.MediaImage {
			logutil.Debugf("bluesky: skipping %s attachment %s", a.Kind, a.URL)
			continue
		}
		blob, err := uploadImage(ctx, client, a)
		if err != nil {
			logutil.Warnf("bluesky: failed to upload %s: %v", a.URL, err)
			continue
		}
		images = append(images, &bsky.EmbedImages_Image{Alt: a.AltText, Image: blob})
	}
	if len(images) == 0 {
		return nil
	}
	return &bsky.EmbedImages{Images: images}
}

func uploadImage(ctx context.Context, client *xrpc.Client, a xpost.Attachment) (*util.LexBlob, error) {
	media, err := xpost.LoadAttachment(ctx, xpost.Bluesky, a)
	if err != nil {
		return nil, err
	}

	resp, err := atproto.RepoUploadBlob(ctx, client, bytes.NewReader(media.Data))
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	if resp.Blob == nil {
		return nil, fmt.Errorf("upload blob: empty response")
	}
	return resp.Blob, nil
}

// FormatText renders post content under Bluesky's rules: hashtags appended,
// then capped at MaxLength characters.
func FormatText(post xpost.Post) string {
	return xpost.Truncate(xpost.AppendTags(post.Content, post.Metadata.Tags), MaxLength)
}

// tagFacets marks each appended hashtag that survives truncation so the
// app renders it as a tag link. Offsets are UTF-8 byte positions.
func tagFacets(post xpost.Post) []*bsky.RichtextFacet {
	tags := post.Metadata.Tags
	if len(tags) == 0 {
		return nil
	}
	full := xpost.AppendTags(post.Content, tags)
	cut := xpost.TruncationPoint(full, MaxLength)

	var facets []*bsky.RichtextFacet
	offset := len(post.Content) + len("\n\n")
	for _, tag := range tags {
		start := offset
		end := start + len("#") + len(tag)
		offset = end + len(" ")
		if tag == "" {
			continue
		}
		if end > cut {
			break
		}
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{ByteStart: int64(start), ByteEnd: int64(end)},
			Features: []*bsky.RichtextFacet_Features_Elem{
				{RichtextFacet_Tag: &bsky.RichtextFacet_Tag{LexiconTypeID: tagFacetType, Tag: tag}},
			},
		})
	}
	return facets
}

func postURL(handle, identifier, uri string) string {
	if handle == "" {
		handle = identifier
	}
	aturi, err := syntax.ParseATURI(uri)
	if err != nil {
		logutil.Debugf("bluesky: unparseable record uri %q: %v", uri, err)
		return ""
	}
	rkey := aturi.RecordKey().String()
	if rkey == "" {
		return ""
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey)
}
