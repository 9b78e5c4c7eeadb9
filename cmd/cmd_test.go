package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/xpostd/internal/xpost"
)

func TestNormalizeTargets(t *testing.T) {
	got, err := normalizeTargets([]string{"Twitter", "x", "facebook", ""})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "facebook,twitter" {
		t.Errorf("unexpected targets %v", got)
	}

	all, err := normalizeTargets([]string{"all"})
	if err != nil || strings.Join(all, ",") != "bluesky,mastodon,twitter" {
		t.Errorf("unexpected all targets %v, %v", all, err)
	}

	if _, err := normalizeTargets([]string{"myspace"}); err == nil {
		t.Error("expected unsupported target error")
	}
}

func TestLoadMedia(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n0000"), 0o644); err != nil {
		t.Fatal(err)
	}

	assets, err := loadMedia([]string{png}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || assets[0].MimeType != "image/png" || assets[0].AltText != defaultAltText || assets[0].Kind != xpost.MediaImage {
		t.Errorf("unexpected assets %+v", assets)
	}

	if _, err := loadMedia(nil, []string{filepath.Join(dir, "missing.mp4")}, ""); err == nil {
		t.Error("expected read error")
	}
}

func TestPostDryRun(t *testing.T) {
	t.Setenv("XPOST_MASTODON_SERVER", "https://mastodon.example")
	t.Setenv("XPOST_MASTODON_ACCESS_TOKEN", "token")
	t.Setenv("XPOSTD_DRY_RUN_LATENCY", "1ms")

	root := newRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"post", "--target", "mastodon", "--dry-run", "--log-format", "text", "hello from the shell"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), `[dry-run] would post to mastodon: "hello from the shell"`) {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestPostReadsStdin(t *testing.T) {
	root := newRootCommand()
	root.SetIn(strings.NewReader("  piped message \n"))
	post, _, err := root.Find([]string{"post"})
	if err != nil {
		t.Fatal(err)
	}
	messageFlag = ""
	msg, err := resolveMessage(post, nil)
	if err != nil || msg != "piped message" {
		t.Errorf("unexpected message %q, %v", msg, err)
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	t.Setenv("XPOST_BLUESKY_HANDLE", "")
	t.Setenv("XPOST_BLUESKY_APP_PASSWORD", "")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"validate", "--target", "bluesky", "--log-format", "text"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "XPOST_BLUESKY_HANDLE") {
		t.Errorf("expected missing env error, got %v", err)
	}
}
