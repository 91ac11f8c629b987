package xpost

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Network identifies a supported social network.
type Network string

const (
	Bluesky  Network = "bluesky"
	Mastodon Network = "mastodon"
	Twitter  Network = "twitter"
)

// Networks returns every supported network in sorted order.
func Networks() []Network {
	return []Network{Bluesky, Mastodon, Twitter}
}

// ParseNetwork normalizes a user supplied network name.
func ParseNetwork(raw string) (Network, error) {
	switch n := strings.TrimSpace(strings.ToLower(raw)); n {
	case string(Bluesky), string(Mastodon), string(Twitter):
		return Network(n), nil
	case "x":
		return Twitter, nil
	default:
		return "", ValidationError{Provider: "xpost", Reason: fmt.Sprintf("unsupported network %q", raw)}
	}
}

func (n Network) String() string { return string(n) }

// MediaKind classifies an attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Attachment references a media file to upload alongside a post.
// URL may be a local path, a file:// URL or an http(s) URL.
type Attachment struct {
	URL     string
	Kind    MediaKind
	AltText string
}

// Metadata carries descriptive fields about a post.
type Metadata struct {
	Title       string
	Tags        []string
	CreatedAt   time.Time
	Source      string
	OriginalURL string
}

// Post is the content shared across all networks for one publish attempt.
type Post struct {
	Content     string
	Metadata    Metadata
	Attachments []Attachment
}

// Visibility controls who can see a post on networks that support it.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// ParseVisibility validates a visibility name. Empty input yields "".
func ParseVisibility(raw string) (Visibility, error) {
	switch v := Visibility(strings.TrimSpace(strings.ToLower(raw))); v {
	case "", VisibilityPublic, VisibilityUnlisted, VisibilityPrivate, VisibilityDirect:
		return v, nil
	default:
		return "", ValidationError{Provider: "xpost", Reason: fmt.Sprintf("unsupported visibility %q", raw)}
	}
}

// Options are platform specific publish settings. Networks ignore the
// fields they have no equivalent for.
type Options struct {
	Visibility Visibility
	Sensitive  bool
	Language   string
}

// Client is a single network adapter bound to one set of credentials.
//
// Initialize must succeed before Publish or VerifyCredentials are useful.
// Publish never returns an error value: failures are reported through the
// returned Result.
type Client interface {
	Network() Network
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, post Post, opts *Options) Result
	VerifyCredentials(ctx context.Context) bool
	Cleanup(ctx context.Context) error
}

// Result is the normalized outcome of publishing to one network.
type Result struct {
	Network   Network
	Success   bool
	PostID    string
	URL       string
	Err       error
	Timestamp time.Time
}

// Succeeded builds a successful result.
func Succeeded(network Network, postID, url string) Result {
	return Result{
		Network:   network,
		Success:   true,
		PostID:    postID,
		URL:       url,
		Timestamp: time.Now(),
	}
}

// Failed builds a failed result. A nil err is replaced by a PlatformError
// with the default message.
func Failed(network Network, err error) Result {
	if err == nil {
		err = &PlatformError{Network: network}
	}
	return Result{
		Network:   network,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error returns the failure message, or "" for successful results.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Results maps each requested network to its outcome.
type Results map[Network]Result

// AllSucceeded reports whether every entry succeeded. An empty set is
// not considered a success.
func (r Results) AllSucceeded() bool {
	if len(r) == 0 {
		return false
	}
	for _, res := range r {
		if !res.Success {
			return false
		}
	}
	return true
}

// Failed lists the networks whose publish failed, sorted.
func (r Results) Failed() []Network {
	var out []Network
	for n, res := range r {
		if !res.Success {
			out = append(out, n)
		}
	}
	SortNetworks(out)
	return out
}

// Networks returns the keys in sorted order.
func (r Results) Networks() []Network {
	out := make([]Network, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	SortNetworks(out)
	return out
}

// SortNetworks sorts networks in place by name.
func SortNetworks(networks []Network) {
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
}
