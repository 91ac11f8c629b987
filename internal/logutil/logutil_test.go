package logutil

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestVerbose(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})

	SetVerbose(false)
	Debugf("hidden %d", 1)
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("debug message logged at info level: %q", buf.String())
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	Debugf("shown %d", 2)
	Warnf("careful")
	out := buf.String()
	if !strings.Contains(out, "shown 2") || !strings.Contains(out, "careful") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "polyglot") {
		t.Errorf("prefix missing: %q", out)
	}
}
