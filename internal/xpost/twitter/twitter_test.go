package twitter

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/michimani/gotwi"

	"github.com/blacktop/xpostd/internal/retry"
	session "github.com/blacktop/xpostd/internal/upload"
	"github.com/blacktop/xpostd/internal/xpost"
)

const credJSON = `{"appKey":"app-key-123456","appSecret":"app-secret","accessToken":"access-token-123456","accessSecret":"access-secret"}`

func TestParseCredential(t *testing.T) {
	for name, raw := range map[string]string{
		"json":   credJSON,
		"base64": base64.StdEncoding.EncodeToString([]byte(credJSON)),
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := ParseCredential(raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if cfg.APIKey != "app-key-123456" || cfg.AccessSecret != "access-secret" {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestParseCredentialErrors(t *testing.T) {
	var ve xpost.ValidationError
	for _, raw := range []string{
		`{"appKey":"k"}`,
		"not base64 !!",
		base64.StdEncoding.EncodeToString([]byte("not json")),
	} {
		if _, err := ParseCredential(raw); !errors.As(err, &ve) {
			t.Errorf("ParseCredential(%q): expected validation error, got %v", raw, err)
		}
	}
	_, err := ParseCredential(`{"appKey":"k"}`)
	if err == nil || !strings.Contains(err.Error(), "accessSecret") {
		t.Errorf("expected missing fields named, got %v", err)
	}
}

func TestLoadConfigFromEnvMissing(t *testing.T) {
	t.Setenv(envAPIKey, "")
	t.Setenv(envAPISecret, "secret")
	t.Setenv(envAccessToken, "")
	t.Setenv(envAccessSecret, "secret")

	_, err := loadConfigFromEnv()
	var me xpost.MissingEnvError
	if !errors.As(err, &me) {
		t.Fatalf("expected MissingEnvError, got %v", err)
	}
	if len(me.Variables) != 2 || me.Variables[0] != envAPIKey || me.Variables[1] != envAccessToken {
		t.Errorf("unexpected missing variables %v", me.Variables)
	}
}

func TestNewUsesDestinationCredential(t *testing.T) {
	p, err := New(context.Background(), xpost.Destination{Platform: "twitter", ID: "me", Credential: credJSON})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.Name() != providerName {
		t.Errorf("unexpected name %q", p.Name())
	}
	if _, ok := p.(xpost.ChunkedUploader); !ok {
		t.Error("expected chunked upload support")
	}
	if _, ok := p.(xpost.Classifier); !ok {
		t.Error("expected custom classifier")
	}
}

func TestValidateCredentialStructural(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		valid bool
		who   string
	}{
		{"ok", Config{APIKey: "app-key-123456", APISecret: "s", AccessToken: "access-token-123456", AccessSecret: "s"}, true, "X account (structural check)"},
		{"mock", Config{APIKey: "mock", APISecret: "s", AccessToken: "mock", AccessSecret: "s"}, true, "Mock X User"},
		{"short", Config{APIKey: "short", APISecret: "s", AccessToken: "short", AccessSecret: "s"}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewWithConfig(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			id := c.ValidateCredential(context.Background(), false)
			if id.Valid != tt.valid || id.Name != tt.who {
				t.Errorf("unexpected identity %+v", id)
			}
		})
	}
}

func TestUnsupportedOperations(t *testing.T) {
	c, err := NewWithConfig(Config{APIKey: "mock", APISecret: "s", AccessToken: "mock", AccessSecret: "s"})
	if err != nil {
		t.Fatal(err)
	}
	var ue xpost.UnsupportedError
	if _, err := c.CreateStory(context.Background(), xpost.UploadedMedia{ID: "1"}); !errors.As(err, &ue) {
		t.Errorf("expected unsupported story, got %v", err)
	}
	if err := c.UpdatePost(context.Background(), "1", "x"); !errors.As(err, &ue) {
		t.Errorf("expected unsupported update, got %v", err)
	}
	if d := c.Classify(xpost.UnsupportedError{Provider: providerName}); d.Class != retry.Permanent {
		t.Errorf("unsupported must not be retried, got %s", d.Class)
	}
}

func gotwiError(title string) *gotwi.GotwiError {
	e := &gotwi.GotwiError{}
	e.Title = title
	return e
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		title string
		want  retry.Class
	}{
		{"Too Many Requests", retry.RateLimited},
		{"Service Unavailable", retry.Transient},
		{"Bad Gateway", retry.Transient},
		{"Internal Server Error", retry.Transient},
		{"Forbidden", retry.Permanent},
		{"Unauthorized", retry.Permanent},
	}
	c := &Client{}
	for _, tt := range tests {
		err := wrapError("post tweet", gotwiError(tt.title))
		if got := c.Classify(err).Class; got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.title, got, tt.want)
		}
	}
}

func TestClassifyConnectionErrors(t *testing.T) {
	c := &Client{}
	if d := c.Classify(wrapError("post tweet", io.ErrUnexpectedEOF)); d.Class != retry.Transient {
		t.Errorf("expected transport error to retry, got %s", d.Class)
	}
	if d := c.Classify(errors.New("dial tcp: connection reset")); d.Class != retry.Transient {
		t.Errorf("expected response-less failure to retry, got %s", d.Class)
	}
	if d := c.Classify(context.Canceled); d.Class != retry.Permanent {
		t.Errorf("expected cancellation to stop, got %s", d.Class)
	}
}

func TestReadiness(t *testing.T) {
	tests := map[string]session.Readiness{
		"":            session.Ready,
		"succeeded":   session.Ready,
		"pending":     session.Processing,
		"in_progress": session.Processing,
		"failed":      session.Failed,
	}
	for state, want := range tests {
		if got := readiness(state); got != want {
			t.Errorf("readiness(%q) = %d, want %d", state, got, want)
		}
	}
}

func TestResolveMediaType(t *testing.T) {
	mt, cat := resolveMediaType("", xpost.MediaVideo)
	if string(mt) != "video/mp4" || string(cat) != categoryTweetVideo {
		t.Errorf("unexpected video type %s/%s", mt, cat)
	}
	mt, _ = resolveMediaType("image/png", xpost.MediaImage)
	if string(mt) != "image/png" {
		t.Errorf("unexpected image type %s", mt)
	}
}

func TestQueryParameters(t *testing.T) {
	p := &queryParameters{values: map[string]string{"command": "STATUS", "media_id": "42"}}
	if got := p.ResolveEndpoint(statusEndpoint); got != statusEndpoint+"?command=STATUS&media_id=42" {
		t.Errorf("unexpected endpoint %s", got)
	}
	if p.ParameterMap()["media_id"] != "42" {
		t.Error("expected signed parameters")
	}
}
