package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/blacktop/xpostd/internal/retry"
	"github.com/blacktop/xpostd/internal/xpost"
)

const blobCID = "bafkreibme22gw2h7y2h7tg2fhqotaqjucnbc24deqo72b6mkl2egezxhvy"

type pds struct {
	logins  atomic.Int32
	records []map[string]any
	status  int
}

func (p *pds) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		p.logins.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accessJwt":"access","refreshJwt":"refresh","handle":"blacktop.bsky.social","did":"did:plc:test"}`))
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.uploadBlob", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"blob":{"$type":"blob","ref":{"$link":"` + blobCID + `"},"mimeType":"image/png","size":3}}`))
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		if p.status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(p.status)
			w.Write([]byte(`{"error":"Upstream","message":"try later"}`))
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		p.records = append(p.records, body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"uri":"at://did:plc:test/app.bsky.feed.post/3k","cid":"` + blobCID + `"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLazyLogin(t *testing.T) {
	p := &pds{}
	srv := p.server(t)
	c := NewWithConfig(Config{Handle: "blacktop.bsky.social", AppPassword: "pw", PDSURL: srv.URL})

	if id := c.ValidateCredential(context.Background(), false); !id.Valid {
		t.Fatalf("expected structural success, got %+v", id)
	}
	if p.logins.Load() != 0 {
		t.Fatal("construction and structural validation must not log in")
	}

	for i := 0; i < 2; i++ {
		if _, err := c.CreatePost(context.Background(), "hello sky", nil); err != nil {
			t.Fatalf("create post: %v", err)
		}
	}
	if p.logins.Load() != 1 {
		t.Errorf("expected a single login, got %d", p.logins.Load())
	}
}

func TestCreatePostWithImage(t *testing.T) {
	p := &pds{}
	srv := p.server(t)
	c := NewWithConfig(Config{Handle: "h", AppPassword: "pw", PDSURL: srv.URL})

	id, err := c.UploadMedia(context.Background(), xpost.MediaAsset{Data: []byte("png"), Kind: xpost.MediaImage})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id != blobCID {
		t.Errorf("expected blob cid as media id, got %q", id)
	}

	uri, err := c.CreatePost(context.Background(), "with image", []xpost.UploadedMedia{{ID: id, AltText: "a png"}})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if uri != "at://did:plc:test/app.bsky.feed.post/3k" {
		t.Errorf("unexpected uri %q", uri)
	}
	record, _ := p.records[0]["record"].(map[string]any)
	if _, ok := record["embed"]; !ok {
		t.Errorf("expected image embed in record %v", record)
	}
}

func TestVideoUnsupported(t *testing.T) {
	c := NewWithConfig(Config{Handle: "h", AppPassword: "pw", PDSURL: "http://127.0.0.1:1"})
	var ue xpost.UnsupportedError
	if _, err := c.UploadMedia(context.Background(), xpost.MediaAsset{Data: []byte("v"), Kind: xpost.MediaVideo}); !errors.As(err, &ue) {
		t.Errorf("expected unsupported video, got %v", err)
	}
	if err := c.UpdatePost(context.Background(), "at://x", "new"); !errors.As(err, &ue) {
		t.Errorf("expected unsupported update, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	p := &pds{status: http.StatusBadGateway}
	srv := p.server(t)
	c := NewWithConfig(Config{Handle: "h", AppPassword: "pw", PDSURL: srv.URL})

	_, err := c.CreatePost(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if d := xpost.Classify(err); d.Class != retry.Transient {
		t.Errorf("expected transient, got %s (%v)", d.Class, err)
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(xpost.Destination{Platform: "bluesky", ID: "me.bsky.social", Credential: "app-pw"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Handle != "me.bsky.social" || cfg.AppPassword != "app-pw" {
		t.Errorf("unexpected config %+v", cfg)
	}

	t.Setenv(envHandle, "")
	t.Setenv(envAppPassword, "")
	var me xpost.MissingEnvError
	if _, err := loadConfig(xpost.Destination{Platform: "bluesky", ID: "x"}); !errors.As(err, &me) {
		t.Errorf("expected missing env, got %v", err)
	}
}
