package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/blacktop/polyglot/internal/xpost"
)

type fakePDS struct {
	t *testing.T

	mu        sync.Mutex
	records   []map[string]any
	next      int
	failPost  bool
	loggedOut bool
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/xrpc/com.atproto.server.createSession":
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["identifier"] != "me.bsky.social" || in["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"accessJwt":"access","refreshJwt":"refresh","handle":"me.bsky.social","did":"did:plc:abc123"}`))
	case "/xrpc/com.atproto.repo.createRecord":
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthRequired"}`))
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPost {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"InvalidRequest","message":"record too long"}`))
			return
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			f.t.Errorf("decode createRecord body: %v", err)
		}
		rec, _ := in["record"].(map[string]any)
		f.records = append(f.records, rec)
		f.next++
		rkey := "3kpost" + string(rune('a'+f.next))
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:abc123/app.bsky.feed.post/` + rkey + `","cid":"bafyfake"}`))
	case "/xrpc/app.bsky.actor.getProfile":
		if r.URL.Query().Get("actor") != "did:plc:abc123" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"InvalidRequest"}`))
			return
		}
		_, _ = w.Write([]byte(`{"did":"did:plc:abc123","handle":"me.bsky.social"}`))
	case "/xrpc/com.atproto.server.deleteSession":
		if r.Header.Get("Authorization") != "Bearer refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthRequired"}`))
			return
		}
		f.mu.Lock()
		f.loggedOut = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T) (*Client, *fakePDS) {
	t.Helper()
	pds := &fakePDS{t: t}
	srv := httptest.NewServer(pds)
	t.Cleanup(srv.Close)
	return New(Config{Identifier: "me.bsky.social", Password: "app-pass", Service: srv.URL + "/"}), pds
}

func TestFormatText(t *testing.T) {
	t.Run("tags appended", func(t *testing.T) {
		content := strings.Repeat("x", 280)
		post := xpost.Post{Content: content, Metadata: xpost.Metadata{Tags: []string{"a", "bcdef"}}}
		got := FormatText(post)
		if got != content+"\n\n#a #bcdef" {
			t.Errorf("FormatText() = %q", got[270:])
		}
		if len(got) > MaxLength {
			t.Errorf("len = %d exceeds %d", len(got), MaxLength)
		}
	})

	t.Run("tagged text over limit truncated to exactly 300", func(t *testing.T) {
		content := strings.Repeat("x", 295)
		post := xpost.Post{Content: content, Metadata: xpost.Metadata{Tags: []string{"a", "bcdef"}}}
		got := FormatText(post)
		if len(got) != MaxLength {
			t.Fatalf("len = %d, want %d", len(got), MaxLength)
		}
		if !strings.HasSuffix(got, "...") {
			t.Errorf("FormatText() = %q, want trailing ellipsis", got[290:])
		}
		want := (content + "\n\n#a #bcdef")[:297] + "..."
		if got != want {
			t.Errorf("FormatText() = %q, want %q", got[280:], want[280:])
		}
	})

	t.Run("no tags no separator", func(t *testing.T) {
		if got := FormatText(xpost.Post{Content: "hello"}); got != "hello" {
			t.Errorf("FormatText() = %q", got)
		}
	})

	t.Run("attribution ignored", func(t *testing.T) {
		post := xpost.Post{Content: "hello", Metadata: xpost.Metadata{OriginalURL: "https://example.com"}}
		if got := FormatText(post); got != "hello" {
			t.Errorf("FormatText() = %q", got)
		}
	})
}

func TestTagFacets(t *testing.T) {
	post := xpost.Post{Content: "héllo", Metadata: xpost.Metadata{Tags: []string{"go", "", "atproto"}}}
	text := FormatText(post)
	facets := tagFacets(post)
	if len(facets) != 2 {
		t.Fatalf("len(facets) = %d, want 2", len(facets))
	}
	for i, want := range []string{"#go", "#atproto"} {
		f := facets[i]
		if got := text[f.Index.ByteStart:f.Index.ByteEnd]; got != want {
			t.Errorf("facet %d covers %q, want %q", i, got, want)
		}
		if f.Features[0].RichtextFacet_Tag.Tag != strings.TrimPrefix(want, "#") {
			t.Errorf("facet %d tag = %q", i, f.Features[0].RichtextFacet_Tag.Tag)
		}
	}

	t.Run("truncated tags dropped", func(t *testing.T) {
		post := xpost.Post{Content: strings.Repeat("x", 290), Metadata: xpost.Metadata{Tags: []string{"ok", "toolongtosurvive"}}}
		facets := tagFacets(post)
		if len(facets) != 1 || facets[0].Features[0].RichtextFacet_Tag.Tag != "ok" {
			t.Errorf("tagFacets() kept %d facets", len(facets))
		}
	})

	if tagFacets(xpost.Post{Content: "plain"}) != nil {
		t.Error("expected no facets without tags")
	}
}

func TestPostURL(t *testing.T) {
	got := postURL("me.bsky.social", "ignored", "at://did:plc:abc123/app.bsky.feed.post/3kabc")
	if got != "https://bsky.app/profile/me.bsky.social/post/3kabc" {
		t.Errorf("postURL() = %q", got)
	}
	if got := postURL("", "fallback.bsky.social", "at://did:plc:abc123/app.bsky.feed.post/3kabc"); !strings.Contains(got, "/profile/fallback.bsky.social/") {
		t.Errorf("postURL() = %q", got)
	}
	if got := postURL("h", "i", "not a uri"); got != "" {
		t.Errorf("postURL() = %q, want empty", got)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	client, pds := newTestClient(t)

	if client.Network() != xpost.Bluesky {
		t.Errorf("Network() = %q", client.Network())
	}

	t.Run("publish before initialize", func(t *testing.T) {
		res := client.Publish(ctx, xpost.Post{Content: "early"}, nil)
		var nie *xpost.NotInitializedError
		if res.Success || !errors.As(res.Err, &nie) {
			t.Errorf("Publish() = %+v, want NotInitializedError", res)
		}
		if client.VerifyCredentials(ctx) {
			t.Error("VerifyCredentials() = true before Initialize")
		}
	})

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if !client.VerifyCredentials(ctx) {
		t.Error("VerifyCredentials() = false after Initialize")
	}

	post := xpost.Post{Content: "hello", Metadata: xpost.Metadata{Tags: []string{"go"}}}
	first := client.Publish(ctx, post, &xpost.Options{Language: "en"})
	if !first.Success {
		t.Fatalf("Publish() failed: %v", first.Err)
	}
	if !strings.HasPrefix(first.PostID, "at://did:plc:abc123/app.bsky.feed.post/") {
		t.Errorf("PostID = %q", first.PostID)
	}
	if !strings.HasPrefix(first.URL, "https://bsky.app/profile/me.bsky.social/post/") {
		t.Errorf("URL = %q", first.URL)
	}

	second := client.Publish(ctx, post, nil)
	if !second.Success || second.PostID == first.PostID {
		t.Errorf("second Publish() = %+v, want a distinct post", second)
	}

	pds.mu.Lock()
	records := append([]map[string]any(nil), pds.records...)
	pds.mu.Unlock()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	rec := records[0]
	if rec["text"] != "hello\n\n#go" {
		t.Errorf("record text = %q", rec["text"])
	}
	if langs, _ := rec["langs"].([]any); len(langs) != 1 || langs[0] != "en" {
		t.Errorf("record langs = %v", rec["langs"])
	}
	if facets, _ := rec["facets"].([]any); len(facets) != 1 {
		t.Errorf("record facets = %v", rec["facets"])
	}

	t.Run("platform failure is a result", func(t *testing.T) {
		pds.mu.Lock()
		pds.failPost = true
		pds.mu.Unlock()
		res := client.Publish(ctx, post, nil)
		var pe *xpost.PlatformError
		if res.Success || !errors.As(res.Err, &pe) {
			t.Errorf("Publish() = %+v, want PlatformError", res)
		}
		if res.PostID != "" || res.URL != "" {
			t.Errorf("failed result carries ids: %+v", res)
		}
	})

	if err := client.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup() error: %v", err)
	}
	pds.mu.Lock()
	loggedOut := pds.loggedOut
	pds.mu.Unlock()
	if !loggedOut {
		t.Error("Cleanup() did not delete the session")
	}
	if client.Initialized() {
		t.Error("Initialized() = true after Cleanup")
	}
	if err := client.Cleanup(ctx); err != nil {
		t.Errorf("second Cleanup() error: %v", err)
	}
}

func TestInitializeFailure(t *testing.T) {
	pds := &fakePDS{t: t}
	srv := httptest.NewServer(pds)
	defer srv.Close()

	client := New(Config{Identifier: "me.bsky.social", Password: "wrong", Service: srv.URL})
	err := client.Initialize(context.Background())
	var ie *xpost.InitializationError
	if !errors.As(err, &ie) || ie.Network != xpost.Bluesky {
		t.Fatalf("Initialize() error = %v, want InitializationError", err)
	}
	if client.Initialized() {
		t.Error("client marked initialized after failed login")
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{Identifier: " me "})
	if c.cfg.Service != DefaultService {
		t.Errorf("Service = %q, want %q", c.cfg.Service, DefaultService)
	}
	if c.cfg.Identifier != "me" {
		t.Errorf("Identifier = %q", c.cfg.Identifier)
	}
}
