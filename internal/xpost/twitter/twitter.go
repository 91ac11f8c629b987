package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/polyglot/internal/logutil"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
	"github.com/michimani/gotwi/user/userlookup"
	userlookuptypes "github.com/michimani/gotwi/user/userlookup/types"
)

const (
	// MaxLength is the X post limit for non-premium accounts.
	MaxLength = 280

	maxImages        = 4
	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"
)

var httpTimeout = 30 * time.Second

// Config captures the credentials required for OAuth 1.0a user-context requests.
type Config struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// Client implements xpost.Client for X (Twitter).
type Client struct {
	*xpost.Session

	cfg Config

	mu  sync.Mutex
	api *gotwi.Client
}

// New binds an X client to cfg.
func New(cfg Config) *Client {
	return &Client{
		Session: xpost.NewSession(xpost.Twitter),
		cfg:     cfg,
	}
}

// Initialize constructs the gotwi client using OAuth 1.0a credentials.
func (c *Client) Initialize(ctx context.Context) error {
	httpClient := &http.Client{Timeout: httpTimeout}
	debugEnabled := os.Getenv("POLYGLOT_TWITTER_DEBUG") == "1" || logutil.Verbose()

	api, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           httpClient,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           c.cfg.AccessToken,
		OAuthTokenSecret:     c.cfg.AccessSecret,
		APIKey:               c.cfg.APIKey,
		APIKeySecret:         c.cfg.APISecret,
		Debug:                debugEnabled,
	})
	if err != nil {
		return &xpost.InitializationError{Network: xpost.Twitter, Err: fmt.Errorf("create X client: %w", err)}
	}
	if !api.IsReady() {
		return &xpost.InitializationError{Network: xpost.Twitter, Err: errors.New("X client not ready")}
	}

	c.mu.Lock()
	c.api = api
	c.mu.Unlock()
	c.MarkReady()
	return nil
}

// Publish posts the formatted text (and up to four images) to X.
func (c *Client) Publish(ctx context.Context, post xpost.Post, _ *xpost.Options) xpost.Result {
	api, err := c.session()
	if err != nil {
		return xpost.Failed(xpost.Twitter, err)
	}

	var mediaIDs []string
	for _, a := range post.Attachments {
		if len(mediaIDs) == maxImages {
			break
		}
		if a.Kind != "" && a.Kind != xpost.MediaImage {
			logutil.Debugf("twitter: skipping %s attachment %s", a.Kind, a.URL)
			continue
		}
		logutil.Debugf("uploading media: url=%s", a.URL)
		mediaID, err := uploadMedia(ctx, api, a)
		if err != nil {
			logutil.Warnf("twitter: failed to upload %s: %v", a.URL, err)
			continue
		}
		mediaIDs = append(mediaIDs, mediaID)
		logutil.Debugf("media uploaded: media_id=%s", mediaID)
	}

	input := &managetweettypes.CreateInput{
		Text: gotwi.String(FormatText(post)),
	}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}

	logutil.Debugf("posting tweet: media_count=%d", len(mediaIDs))
	out, err := managetweet.Create(ctx, api, input)
	if err != nil {
		return xpost.Failed(xpost.Twitter, xpost.Wrap(xpost.Twitter, "post tweet", unwrapGotwiError(err)))
	}
	id := gotwi.StringValue(out.Data.ID)
	logutil.Debugf("tweet posted successfully: id=%s", id)

	return xpost.Succeeded(xpost.Twitter, id, statusURL(id))
}

// VerifyCredentials looks up the authenticated user.
func (c *Client) VerifyCredentials(ctx context.Context) bool {
	api, err := c.session()
	if err != nil {
		return false
	}
	out, err := userlookup.GetMe(ctx, api, &userlookuptypes.GetMeInput{})
	if err != nil {
		logutil.Debugf("twitter verify credentials: %v", unwrapGotwiError(err))
		return false
	}
	return out != nil && gotwi.StringValue(out.Data.ID) != ""
}

// Cleanup drops the API client.
func (c *Client) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	c.api = nil
	c.mu.Unlock()
	c.Reset()
	return nil
}

func (c *Client) session() (*gotwi.Client, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil, &xpost.NotInitializedError{Network: xpost.Twitter}
	}
	return c.api, nil
}

// FormatText renders post content for X: hashtags appended, capped at MaxLength.
func FormatText(post xpost.Post) string {
	return xpost.Truncate(xpost.AppendTags(post.Content, post.Metadata.Tags), MaxLength)
}

func statusURL(id string) string {
	if id == "" {
		return ""
	}
	return "https://x.com/i/web/status/" + id
}

func uploadMedia(ctx context.Context, api *gotwi.Client, a xpost.Attachment) (string, error) {
	media, err := xpost.LoadAttachment(ctx, xpost.Twitter, a)
	if err != nil {
		return "", err
	}
	data := media.Data

	mediaType, category, err := resolveMediaType(media.Name, data)
	if err != nil {
		return "", err
	}

	logutil.Debugf("initialize upload: media_type=%s bytes=%d", mediaType, len(data))
	initRes, err := upload.Initialize(ctx, api, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    len(data),
		MediaCategory: category,
	})
	if err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}

	mediaID := initRes.Data.MediaID
	logutil.Debugf("initialize complete: media_id=%s", mediaID)

	appendIn := &uploadtypes.AppendInput{
		MediaID:      mediaID,
		Media:        bytes.NewReader(data),
		SegmentIndex: 0,
	}
	appendIn.GenerateBoundary()

	logutil.Debugf("append upload: media_id=%s segment=0", mediaID)
	appendRes, err := upload.Append(ctx, api, appendIn)
	if err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}
	if err := partialError(appendRes.Errors); err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}

	finalizeRes, err := upload.Finalize(ctx, api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	if err := partialError(finalizeRes.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	state := finalizeRes.Data.ProcessingInfo.State
	logutil.Debugf("finalize state=%s media_id=%s", state, mediaID)
	switch state {
	case "", resources.ProcessingInfoStateSucceeded:
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		wait := time.Duration(finalizeRes.Data.ProcessingInfo.CheckAfterSecs) * time.Second
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	default:
		return "", fmt.Errorf("media processing failed: state=%s", state)
	}

	if alt := strings.TrimSpace(media.AltText); alt != "" {
		if err := setAltText(ctx, api, mediaID, alt); err != nil {
			return "", err
		}
	}

	return mediaID, nil
}

func setAltText(ctx context.Context, api *gotwi.Client, mediaID, altText string) error {
	params := &metadataParameters{
		mediaID: mediaID,
		altText: altText,
	}

	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")

	if err := api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return fmt.Errorf("set alt text: %w", unwrapGotwiError(err))
	}
	logutil.Debugf("alt text set: media_id=%s", mediaID)

	return nil
}

func resolveMediaType(name string, data []byte) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".jpg", ".jpeg":
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case ".png":
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case ".gif":
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case ".webp":
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}

	// fallback to simple detection
	detected := http.DetectContentType(data)
	switch {
	case strings.Contains(detected, "jpeg"):
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "png"):
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "gif"):
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case strings.Contains(detected, "webp"):
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}

	return "", "", xpost.ValidationError{Provider: string(xpost.Twitter), Reason: fmt.Sprintf("unsupported image type for %q", name)}
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	var msgs []string
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprint(*pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		return errors.New("unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

// unwrapGotwiError flattens gotwi's structured error into one readable message.
func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if !errors.As(err, &gwErr) || gwErr == nil {
		return err
	}

	var parts []string
	if gwErr.Title != "" {
		parts = append(parts, gwErr.Title)
	}
	if gwErr.Detail != "" {
		parts = append(parts, gwErr.Detail)
	}
	for _, apiErr := range gwErr.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		if msg := gwErr.Error(); msg != "" {
			return errors.New(msg)
		}
		return errors.New("X API request failed")
	}
	return errors.New(strings.Join(parts, "; "))
}

// metadataParameters implements gotwi.IParameters for the v1.1 alt text endpoint.
type metadataParameters struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParameters) SetAccessToken(token string) { p.accessToken = token }
func (p *metadataParameters) AccessToken() string { return p.accessToken }

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string { return endpointBase }

func (p *metadataParameters) Body() (io.Reader, error) {
	var body struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}
	body.MediaID = p.mediaID
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParameters) ParameterMap() map[string]string { return map[string]string{} }

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }
