package twitter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/blacktop/polyglot/internal/xpost"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
)

func TestFormatText(t *testing.T) {
	exact := xpost.Post{Content: strings.Repeat("z", 275), Metadata: xpost.Metadata{Tags: []string{"go"}}}
	if got, want := FormatText(exact), strings.Repeat("z", 275)+"\n\n#go"; got != want {
		t.Errorf("FormatText() at the limit = %q, want unchanged", got[270:])
	}

	post := xpost.Post{Content: strings.Repeat("z", 276), Metadata: xpost.Metadata{Tags: []string{"go"}}}
	got := FormatText(post)
	if len(got) != MaxLength {
		t.Fatalf("len = %d, want %d", len(got), MaxLength)
	}
	if got != strings.Repeat("z", MaxLength-3)+"..." {
		t.Errorf("FormatText() = %q", got[270:])
	}

	short := xpost.Post{Content: "ship it", Metadata: xpost.Metadata{Tags: []string{"release"}}}
	if got := FormatText(short); got != "ship it\n\n#release" {
		t.Errorf("FormatText() = %q", got)
	}
}

func TestStatusURL(t *testing.T) {
	if got := statusURL("123"); got != "https://x.com/i/web/status/123" {
		t.Errorf("statusURL() = %q", got)
	}
	if got := statusURL(""); got != "" {
		t.Errorf("statusURL(\"\") = %q", got)
	}
}

func TestNotInitialized(t *testing.T) {
	ctx := context.Background()
	c := New(Config{APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "ts"})
	if c.Network() != xpost.Twitter {
		t.Errorf("Network() = %q", c.Network())
	}

	res := c.Publish(ctx, xpost.Post{Content: "x"}, nil)
	var nie *xpost.NotInitializedError
	if res.Success || !errors.As(res.Err, &nie) {
		t.Errorf("Publish() = %+v, want NotInitializedError", res)
	}
	if c.VerifyCredentials(ctx) {
		t.Error("VerifyCredentials() = true before Initialize")
	}
	if err := c.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup() error: %v", err)
	}
}

func TestResolveMediaType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantType uploadtypes.MediaType
		wantErr  bool
	}{
		{name: "a.JPG", wantType: uploadtypes.MediaTypeJPEG},
		{name: "a.png", wantType: uploadtypes.MediaTypePNG},
		{name: "a.gif", wantType: uploadtypes.MediaTypeGIF},
		{name: "a.webp", wantType: uploadtypes.MediaTypeWebP},
		{name: "noext", data: []byte("\x89PNG\r\n\x1a\n0000"), wantType: uploadtypes.MediaTypePNG},
		{name: "notes.txt", data: []byte("plain text"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := resolveMediaType(tt.name, tt.data)
			if tt.wantErr {
				var ve xpost.ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("resolveMediaType() error = %v, want ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveMediaType() error: %v", err)
			}
			if got != tt.wantType {
				t.Errorf("resolveMediaType() = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestPartialError(t *testing.T) {
	if partialError(nil) != nil {
		t.Error("partialError(nil) != nil")
	}
	detail, title := "too large", "Bad Request"
	err := partialError([]resources.PartialError{{Detail: &detail}, {Title: &title}})
	if err == nil || err.Error() != "too large; Bad Request" {
		t.Errorf("partialError() = %v", err)
	}
	if err := partialError([]resources.PartialError{{}}); err == nil || err.Error() != "unknown error" {
		t.Errorf("partialError() = %v", err)
	}
}

func TestUnwrapGotwiError(t *testing.T) {
	plain := errors.New("dial tcp: timeout")
	if got := unwrapGotwiError(plain); got != plain {
		t.Errorf("unwrapGotwiError() = %v, want passthrough", got)
	}
}
