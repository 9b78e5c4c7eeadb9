package mastodon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blacktop/xpostd/internal/retry"
	"github.com/blacktop/xpostd/internal/xpost"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/statuses", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("status") == "" {
			http.Error(w, "missing status", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"109","content":"ok"}`))
	})
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","acct":"blacktop"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreatePost(t *testing.T) {
	srv := newTestServer(t)
	c := NewWithConfig(Config{Server: srv.URL, AccessToken: "token"})

	id, err := c.CreatePost(context.Background(), "hello fediverse", nil)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if id != "109" {
		t.Errorf("expected id 109, got %q", id)
	}
}

func TestValidateCredential(t *testing.T) {
	srv := newTestServer(t)
	c := NewWithConfig(Config{Server: srv.URL, AccessToken: "token"})

	if id := c.ValidateCredential(context.Background(), false); !id.Valid {
		t.Errorf("expected structural success, got %+v", id)
	}
	id := c.ValidateCredential(context.Background(), true)
	if !id.Valid || id.Name != "@blacktop" {
		t.Errorf("expected @blacktop, got %+v", id)
	}
	if id := NewWithConfig(Config{}).ValidateCredential(context.Background(), false); id.Valid {
		t.Error("expected empty config to be invalid")
	}
}

func TestUnsupported(t *testing.T) {
	c := NewWithConfig(Config{Server: "https://example.invalid", AccessToken: "t"})
	var ue xpost.UnsupportedError
	if err := c.UpdatePost(context.Background(), "1", "x"); !errors.As(err, &ue) {
		t.Errorf("expected unsupported, got %v", err)
	}
	if _, err := c.CreateStory(context.Background(), xpost.UploadedMedia{}); !errors.As(err, &ue) {
		t.Errorf("expected unsupported, got %v", err)
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		msg  string
		want retry.Class
	}{
		{"bad request: 429 Too Many Requests: slow down", retry.RateLimited},
		{"bad request: 503 Service Unavailable", retry.Transient},
		{"bad request: 422 Unprocessable Entity: Validation failed", retry.Permanent},
		{"something else", retry.Permanent},
	}
	for _, tt := range tests {
		if got := xpost.Classify(wrapError("post status", errors.New(tt.msg))).Class; got != tt.want {
			t.Errorf("%q: got %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(envServer, "https://mastodon.social")
	t.Setenv(envAccessToken, "")

	cfg, err := loadConfig("bare-token")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "https://mastodon.social" || cfg.AccessToken != "bare-token" {
		t.Errorf("unexpected config %+v", cfg)
	}

	cfg, err = loadConfig(`{"server":"https://hachyderm.io","accessToken":"abc"}`)
	if err != nil || cfg.Server != "https://hachyderm.io" {
		t.Errorf("unexpected json config %+v, %v", cfg, err)
	}

	var me xpost.MissingEnvError
	if _, err := loadConfig(""); !errors.As(err, &me) {
		t.Errorf("expected missing token, got %v", err)
	}
}
