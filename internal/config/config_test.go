package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/blacktop/polyglot/internal/xpost"
)

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfig,
		EnvBlueskyIdentifier, EnvBlueskyPassword, EnvBlueskyService,
		EnvMastodonInstanceURL, EnvMastodonAccessToken,
		EnvTwitterConsumerKey, EnvTwitterConsumerSecret,
		EnvTwitterAccessToken, EnvTwitterAccessTokenSecret,
		EnvDefaultVisibility,
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), File)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields empty config", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if len(cfg.Networks()) != 0 {
			t.Errorf("Networks() = %v, want none", cfg.Networks())
		}
	})

	t.Run("full file", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, `
bluesky:
  identifier: me.bsky.social
  password: app-pass
mastodon:
  instance_url: https://mastodon.social
  access_token: tok
twitter:
  enabled: false
default_visibility: unlisted
default_networks: [mastodon, bluesky, mastodon]
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if got, want := cfg.Networks(), []xpost.Network{xpost.Bluesky, xpost.Mastodon}; !reflect.DeepEqual(got, want) {
			t.Errorf("Networks() = %v, want %v", got, want)
		}
		defaults, err := cfg.Defaults()
		if err != nil {
			t.Fatal(err)
		}
		if want := []xpost.Network{xpost.Bluesky, xpost.Mastodon}; !reflect.DeepEqual(defaults, want) {
			t.Errorf("Defaults() = %v, want %v", defaults, want)
		}

		pc := cfg.Publisher()
		if pc.Bluesky == nil || pc.Bluesky.Identifier != "me.bsky.social" || pc.Bluesky.Password != "app-pass" {
			t.Errorf("Publisher().Bluesky = %+v", pc.Bluesky)
		}
		if pc.Mastodon == nil || pc.Mastodon.InstanceURL != "https://mastodon.social" {
			t.Errorf("Publisher().Mastodon = %+v", pc.Mastodon)
		}
		if pc.Twitter != nil {
			t.Errorf("disabled twitter section converted: %+v", pc.Twitter)
		}
		if pc.DefaultVisibility != xpost.VisibilityUnlisted {
			t.Errorf("DefaultVisibility = %q", pc.DefaultVisibility)
		}
	})

	t.Run("missing required fields", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "mastodon:\n  instance_url: https://m.example\n")
		_, err := Load(path)
		var mce xpost.MissingConfigError
		if !errors.As(err, &mce) {
			t.Fatalf("Load() error = %v, want MissingConfigError", err)
		}
		if mce.Network != xpost.Mastodon || !reflect.DeepEqual(mce.Fields, []string{"access_token"}) {
			t.Errorf("MissingConfigError = %+v", mce)
		}
	})

	t.Run("disabled section skips validation", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "bluesky:\n  enabled: false\n")
		if _, err := Load(path); err != nil {
			t.Errorf("Load() error: %v", err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "bluesky: [unterminated\n")
		if _, err := Load(path); err == nil {
			t.Error("Load() succeeded on invalid yaml")
		}
	})

	t.Run("bad visibility", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "default_visibility: everyone\n")
		var ve xpost.ValidationError
		if _, err := Load(path); !errors.As(err, &ve) {
			t.Errorf("Load() error = %v, want ValidationError", err)
		}
	})

	t.Run("bad default network", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "default_networks: [myspace]\n")
		if _, err := Load(path); err == nil {
			t.Error("Load() accepted unknown network")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "bluesky:\n  identifier: file-id\n  password: file-pass\n")
	t.Setenv(EnvBlueskyPassword, "env-pass")
	t.Setenv(EnvMastodonInstanceURL, "https://env.example")
	t.Setenv(EnvMastodonAccessToken, "env-token")
	t.Setenv(EnvTwitterConsumerKey, "ck")
	t.Setenv(EnvTwitterConsumerSecret, "cs")
	t.Setenv(EnvTwitterAccessToken, "at")
	t.Setenv(EnvTwitterAccessTokenSecret, "ats")
	t.Setenv(EnvDefaultVisibility, "private")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Bluesky.Identifier != "file-id" || cfg.Bluesky.Password != "env-pass" {
		t.Errorf("Bluesky = %+v", cfg.Bluesky)
	}
	if cfg.Mastodon == nil || cfg.Mastodon.AccessToken != "env-token" {
		t.Errorf("Mastodon = %+v", cfg.Mastodon)
	}
	pc := cfg.Publisher()
	if pc.Twitter == nil || pc.Twitter.APIKey != "ck" || pc.Twitter.AccessSecret != "ats" {
		t.Errorf("Publisher().Twitter = %+v", pc.Twitter)
	}
	if pc.DefaultVisibility != xpost.VisibilityPrivate {
		t.Errorf("DefaultVisibility = %q", pc.DefaultVisibility)
	}
}

func TestResolvePath(t *testing.T) {
	clearEnv(t)
	if got, _ := ResolvePath("/tmp/explicit.yaml"); got != "/tmp/explicit.yaml" {
		t.Errorf("ResolvePath(explicit) = %q", got)
	}
	t.Setenv(EnvConfig, "/tmp/env.yaml")
	if got, _ := ResolvePath(""); got != "/tmp/env.yaml" {
		t.Errorf("ResolvePath(env) = %q", got)
	}
	t.Setenv(EnvConfig, "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	got, err := ResolvePath("")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("/tmp/xdg", Dir, File) && filepath.Base(got) != File {
		t.Errorf("ResolvePath(default) = %q", got)
	}
}

func TestSave(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "nested", Dir)
	path := filepath.Join(dir, File)
	off := false
	in := &Config{
		Bluesky:         &BlueskyConfig{Identifier: "me", Password: "secret"},
		Twitter:         &TwitterConfig{Enabled: &off},
		DefaultNetworks: []string{"bluesky"},
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %v, want 0600", perm)
	}
	dinfo, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := dinfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir mode = %v, want 0700", perm)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if out.Bluesky.Password != "secret" || out.Twitter.enabled() {
		t.Errorf("reloaded = %+v", out)
	}

	if err := Save(path, nil); err == nil {
		t.Error("Save(nil) succeeded")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "POLYGLOT_DOTENV_TEST"
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"+EnvMastodonAccessToken+"=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })
	t.Setenv(EnvMastodonAccessToken, "from-env")

	LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))

	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}
	if got := os.Getenv(EnvMastodonAccessToken); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}
}
