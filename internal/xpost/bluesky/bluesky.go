package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	envHandle      = "XPOST_BLUESKY_HANDLE"
	envAppPassword = "XPOST_BLUESKY_APP_PASSWORD"
	envPDSURL      = "XPOST_BLUESKY_PDS_URL"

	DefaultPDSURL = "https://bsky.social"

	providerName   = "bluesky"
	requestTimeout = 30 * time.Second
	maxImages      = 4
)

// Config holds the account login.
type Config struct {
	Handle      string `json:"handle"`
	AppPassword string `json:"appPassword"`
	PDSURL      string `json:"pdsUrl,omitempty"`
}

// Client implements xpost.Platform for Bluesky. It logs in on first use.
type Client struct {
	cfg    Config
	client *xrpc.Client

	mu       sync.Mutex
	loggedIn bool
	blobs    map[string]*util.LexBlob
}

// New is the xpost.Factory for Bluesky. The credential is a JSON Config or a
// bare app password for the handle given as the destination id.
func New(ctx context.Context, dest xpost.Destination) (xpost.Platform, error) {
	cfg, err := loadConfig(dest)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig builds a client without contacting the PDS.
func NewWithConfig(cfg Config) *Client {
	if cfg.PDSURL == "" {
		cfg.PDSURL = DefaultPDSURL
	}
	userAgent := "xpostd/1"
	return &Client{
		cfg: cfg,
		client: &xrpc.Client{
			Client:    &http.Client{Timeout: requestTimeout},
			Host:      cfg.PDSURL,
			UserAgent: &userAgent,
		},
		blobs: map[string]*util.LexBlob{},
	}
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	session, err := atproto.ServerCreateSession(ctx, c.client, &atproto.ServerCreateSession_Input{
		Identifier: c.cfg.Handle,
		Password:   c.cfg.AppPassword,
	})
	if err != nil {
		return wrapError("login", err)
	}

	c.client.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}
	c.loggedIn = true
	logutil.Debugf("bluesky session created: handle=%s", session.Handle)
	return nil
}

// UploadMedia uploads an image blob. Video is not supported.
func (c *Client) UploadMedia(ctx context.Context, asset xpost.MediaAsset) (string, error) {
	if asset.Kind != xpost.MediaImage {
		return "", xpost.UnsupportedError{Provider: providerName, Op: asset.Kind.String() + " upload"}
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}

	resp, err := atproto.RepoUploadBlob(ctx, c.client, bytes.NewReader(asset.Data))
	if err != nil {
		return "", wrapError("upload blob", err)
	}
	if resp.Blob == nil {
		return "", fmt.Errorf("upload blob: empty response")
	}

	id := resp.Blob.Ref.String()
	c.mu.Lock()
	c.blobs[id] = resp.Blob
	c.mu.Unlock()
	return id, nil
}

// CreatePost creates a feed post with up to four images embedded.
func (c *Client) CreatePost(ctx context.Context, caption string, media []xpost.UploadedMedia) (string, error) {
	if err := c.login(ctx); err != nil {
		return "", err
	}

	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      caption,
	}

	if images := c.embedImages(media); len(images) > 0 {
		post.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{Images: images},
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, c.client, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       c.client.Auth.Did,
		Record: &util.LexiconTypeDecoder{
			Val: post,
		},
	})
	if err != nil {
		return "", wrapError("create record", err)
	}

	return out.Uri, nil
}

func (c *Client) embedImages(media []xpost.UploadedMedia) []*bsky.EmbedImages_Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	var images []*bsky.EmbedImages_Image
	for _, m := range media {
		blob, ok := c.blobs[m.ID]
		if !ok {
			logutil.Warnf("bluesky: unknown blob %s, skipping", m.ID)
			continue
		}
		if len(images) == maxImages {
			logutil.Warnf("bluesky: only %d images per post, dropping the rest", maxImages)
			break
		}
		images = append(images, &bsky.EmbedImages_Image{Alt: m.AltText, Image: blob})
		delete(c.blobs, m.ID)
	}
	return images
}

// CreateStory is not a Bluesky concept.
func (c *Client) CreateStory(context.Context, xpost.UploadedMedia) (string, error) {
	return "", xpost.UnsupportedError{Provider: providerName, Op: "stories"}
}

// UpdatePost is not supported; Bluesky posts are immutable records here.
func (c *Client) UpdatePost(context.Context, string, string) error {
	return xpost.UnsupportedError{Provider: providerName, Op: "post editing"}
}

// ValidateCredential checks the login fields, and with force creates a session.
func (c *Client) ValidateCredential(ctx context.Context, force bool) xpost.Identity {
	if c.cfg.Handle == "" || c.cfg.AppPassword == "" {
		return xpost.Identity{Reason: "handle and app password are required"}
	}
	if !force {
		return xpost.Identity{Valid: true, Name: c.cfg.Handle}
	}
	if err := c.login(ctx); err != nil {
		return xpost.Identity{Reason: err.Error()}
	}
	return xpost.Identity{Valid: true, Name: "@" + c.client.Auth.Handle}
}

// wrapError maps xrpc failures onto the xpost taxonomy.
func wrapError(op string, err error) error {
	var xe *xrpc.Error
	if errors.As(err, &xe) {
		var after time.Duration
		if xe.Ratelimit != nil && !xe.Ratelimit.Reset.IsZero() {
			after = time.Until(xe.Ratelimit.Reset)
		}
		return xpost.ClassifyStatus(providerName, xe.StatusCode, after, fmt.Errorf("%s: %w", op, err), xe.Wrapped)
	}
	if xpost.IsTransportError(err) {
		return xpost.TransientError{Provider: providerName, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func loadConfig(dest xpost.Destination) (Config, error) {
	credential := strings.TrimSpace(dest.Credential)
	if strings.HasPrefix(credential, "{") {
		var cfg Config
		if err := json.Unmarshal([]byte(credential), &cfg); err != nil {
			return Config{}, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("invalid credential JSON: %v", err)}
		}
		if cfg.Handle == "" {
			cfg.Handle = dest.ID
		}
		if cfg.Handle == "" || cfg.AppPassword == "" {
			return Config{}, xpost.ValidationError{Provider: providerName, Reason: "credential requires handle and appPassword"}
		}
		return cfg, nil
	}
	if credential != "" {
		return Config{Handle: dest.ID, AppPassword: credential, PDSURL: strings.TrimSpace(os.Getenv(envPDSURL))}, nil
	}
	return loadConfigFromEnv()
}

func loadConfigFromEnv() (Config, error) {
	cfg := Config{
		Handle:      strings.TrimSpace(os.Getenv(envHandle)),
		AppPassword: strings.TrimSpace(os.Getenv(envAppPassword)),
		PDSURL:      strings.TrimSpace(os.Getenv(envPDSURL)),
	}
	if cfg.PDSURL == "" {
		cfg.PDSURL = DefaultPDSURL
	}

	var missing []string
	if cfg.Handle == "" {
		missing = append(missing, envHandle)
	}
	if cfg.AppPassword == "" {
		missing = append(missing, envAppPassword)
	}

	if len(missing) > 0 {
		return Config{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
