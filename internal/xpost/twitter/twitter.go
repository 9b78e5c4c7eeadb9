package twitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/upload"
	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	envAPIKey       = "XPOST_TWITTER_CONSUMER_KEY"
	envAPISecret    = "XPOST_TWITTER_CONSUMER_SECRET"
	envAccessToken  = "XPOST_TWITTER_ACCESS_TOKEN"
	envAccessSecret = "XPOST_TWITTER_ACCESS_TOKEN_SECRET"

	providerName = "twitter"

	mockCredential = "mock"
	minKeyLength   = 10
)

var httpTimeout = 30 * time.Second

// Config captures the credentials required for OAuth 1.0a user-context requests.
type Config struct {
	APIKey       string `json:"appKey"`
	APISecret    string `json:"appSecret"`
	AccessToken  string `json:"accessToken"`
	AccessSecret string `json:"accessSecret"`
}

func (c Config) missing() []string {
	var out []string
	if c.APIKey == "" {
		out = append(out, "appKey")
	}
	if c.APISecret == "" {
		out = append(out, "appSecret")
	}
	if c.AccessToken == "" {
		out = append(out, "accessToken")
	}
	if c.AccessSecret == "" {
		out = append(out, "accessSecret")
	}
	return out
}

func (c Config) mock() bool {
	return c.APIKey == mockCredential || c.AccessToken == mockCredential
}

// Client implements xpost.Platform for X (Twitter).
type Client struct {
	api *gotwi.Client
	cfg Config
}

// New is the xpost.Factory for X. The destination credential is a JSON
// object, optionally base64 encoded; when empty the environment is used.
func New(ctx context.Context, dest xpost.Destination) (xpost.Platform, error) {
	var (
		cfg Config
		err error
	)
	if strings.TrimSpace(dest.Credential) != "" {
		cfg, err = ParseCredential(dest.Credential)
	} else {
		cfg, err = loadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a client from explicit credentials.
func NewWithConfig(cfg Config) (*Client, error) {
	httpClient := &http.Client{Timeout: httpTimeout}
	debugEnabled := os.Getenv("XPOST_TWITTER_DEBUG") == "1" || logutil.Verbose()

	client, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           httpClient,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessSecret,
		APIKey:               cfg.APIKey,
		APIKeySecret:         cfg.APISecret,
		Debug:                debugEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !client.IsReady() {
		return nil, fmt.Errorf("twitter client not ready")
	}

	return &Client{api: client, cfg: cfg}, nil
}

// ParseCredential decodes a JSON credential object, accepting base64 JSON too.
func ParseCredential(raw string) (Config, error) {
	raw = strings.TrimSpace(raw)
	payload := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Config{}, xpost.ValidationError{Provider: providerName, Reason: "credential is neither JSON nor base64 JSON"}
		}
		payload = decoded
	}

	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return Config{}, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("invalid credential JSON: %v", err)}
	}
	if missing := cfg.missing(); len(missing) > 0 {
		return Config{}, xpost.ValidationError{Provider: providerName, Reason: "credential missing " + strings.Join(missing, ", ")}
	}
	return cfg, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// UploadMedia sends a small asset in a single segment.
func (c *Client) UploadMedia(ctx context.Context, asset xpost.MediaAsset) (string, error) {
	t := c.transport(asset.Kind)
	sess, err := t.Start(ctx, upload.Media{Size: int64(len(asset.Data)), MimeType: asset.ResolvedMimeType(), Video: asset.Kind == xpost.MediaVideo})
	if err != nil {
		return "", err
	}
	if err := t.Transfer(ctx, sess, upload.Chunk{Index: 0, Data: asset.Data}); err != nil {
		return "", err
	}
	mediaID, err := t.Finish(ctx, sess)
	if err != nil {
		return "", err
	}
	logutil.Debugf("media uploaded: media_id=%s", mediaID)
	return mediaID, nil
}

// ChunkedTransport exposes INIT/APPEND/FINALIZE as a resumable session.
func (c *Client) ChunkedTransport(kind xpost.MediaKind) upload.Transport {
	return c.transport(kind)
}

// CreatePost publishes a tweet. Alt text is attached to each media id first.
func (c *Client) CreatePost(ctx context.Context, caption string, media []xpost.UploadedMedia) (string, error) {
	mediaIDs := make([]string, 0, len(media))
	for _, m := range media {
		if alt := strings.TrimSpace(m.AltText); alt != "" {
			if err := c.setAltText(ctx, m.ID, alt); err != nil {
				return "", err
			}
		}
		mediaIDs = append(mediaIDs, m.ID)
	}

	input := &managetweettypes.CreateInput{
		Text: gotwi.String(caption),
	}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}

	logutil.Debugf("posting tweet: media_count=%d", len(mediaIDs))
	res, err := managetweet.Create(ctx, c.api, input)
	if err != nil {
		return "", wrapError("post tweet", err)
	}
	id := gotwi.StringValue(res.Data.ID)
	logutil.Debugf("tweet posted: id=%s", id)
	return id, nil
}

// CreateStory is not offered by the X API.
func (c *Client) CreateStory(context.Context, xpost.UploadedMedia) (string, error) {
	return "", xpost.UnsupportedError{Provider: providerName, Op: "stories"}
}

// UpdatePost is not offered by the X API.
func (c *Client) UpdatePost(context.Context, string, string) error {
	return xpost.UnsupportedError{Provider: providerName, Op: "tweet editing"}
}

// ValidateCredential checks the credential shape, and with force asks X who
// the token belongs to.
func (c *Client) ValidateCredential(ctx context.Context, force bool) xpost.Identity {
	if missing := c.cfg.missing(); len(missing) > 0 {
		return xpost.Identity{Reason: "missing " + strings.Join(missing, ", ")}
	}
	if c.cfg.mock() {
		return xpost.Identity{Valid: true, Name: "Mock X User"}
	}
	if len(c.cfg.APIKey) < minKeyLength || len(c.cfg.AccessToken) < minKeyLength {
		return xpost.Identity{Reason: "credentials appear structurally invalid (too short)"}
	}
	if !force {
		return xpost.Identity{Valid: true, Name: "X account (structural check)"}
	}

	username, err := c.me(ctx)
	if err != nil {
		return xpost.Identity{Reason: fmt.Sprintf("X API validation failed: %v", err)}
	}
	return xpost.Identity{Valid: true, Name: "@" + username}
}

func loadConfigFromEnv() (Config, error) {
	cfg := Config{
		APIKey:       strings.TrimSpace(os.Getenv(envAPIKey)),
		APISecret:    strings.TrimSpace(os.Getenv(envAPISecret)),
		AccessToken:  strings.TrimSpace(os.Getenv(envAccessToken)),
		AccessSecret: strings.TrimSpace(os.Getenv(envAccessSecret)),
	}

	var missing []string
	if cfg.APIKey == "" {
		missing = append(missing, envAPIKey)
	}
	if cfg.APISecret == "" {
		missing = append(missing, envAPISecret)
	}
	if cfg.AccessToken == "" {
		missing = append(missing, envAccessToken)
	}
	if cfg.AccessSecret == "" {
		missing = append(missing, envAccessSecret)
	}

	if len(missing) > 0 {
		return Config{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
