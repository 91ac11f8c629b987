package xpost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const mediaTimeout = 30 * time.Second

var (
	mediaHTTPClient = &http.Client{Timeout: mediaTimeout}

	// maxMediaBytes caps a remote attachment.
	maxMediaBytes int64 = 100 << 20
)

// Media is an attachment loaded into memory ready for upload.
type Media struct {
	Name    string
	Kind    MediaKind
	AltText string
	Data    []byte
}

// ContentType sniffs the MIME type of the payload.
func (m Media) ContentType() string {
	return http.DetectContentType(m.Data)
}

// LoadAttachment reads an attachment from disk or over HTTP.
func LoadAttachment(ctx context.Context, provider Network, a Attachment) (Media, error) {
	ref := strings.TrimSpace(a.URL)
	if ref == "" {
		return Media{}, ValidationError{Provider: string(provider), Reason: "attachment has no url"}
	}

	kind := a.Kind
	if kind == "" {
		kind = MediaImage
	}

	u, err := url.Parse(ref)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		data, err := fetch(ctx, ref)
		if err != nil {
			return Media{}, err
		}
		return Media{Name: filepath.Base(u.Path), Kind: kind, AltText: a.AltText, Data: data}, nil
	}

	path := ref
	if err == nil && u.Scheme == "file" {
		path = u.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Media{}, ValidationError{Provider: string(provider), Reason: fmt.Sprintf("attachment %q not found", path)}
		}
		return Media{}, fmt.Errorf("read attachment: %w", err)
	}
	return Media{Name: filepath.Base(path), Kind: kind, AltText: a.AltText, Data: data}, nil
}

func fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	resp, err := mediaHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: %s returned %s", ref, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	if int64(len(data)) > maxMediaBytes {
		return nil, fmt.Errorf("fetch attachment: %s exceeds %d bytes", ref, maxMediaBytes)
	}
	return data, nil
}
