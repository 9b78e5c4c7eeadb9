package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mastodonapi "github.com/mattn/go-mastodon"

	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	envServer       = "XPOST_MASTODON_SERVER"
	envAccessToken  = "XPOST_MASTODON_ACCESS_TOKEN"
	envClientID     = "XPOST_MASTODON_CLIENT_ID"
	envClientSecret = "XPOST_MASTODON_CLIENT_SECRET"

	providerName   = "mastodon"
	requestTimeout = 30 * time.Second
)

// Config contains the settings needed to reach a Mastodon server.
type Config struct {
	Server       string `json:"server"`
	AccessToken  string `json:"accessToken"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// Client wraps the Mastodon API client.
type Client struct {
	client *mastodonapi.Client
	cfg    Config
}

// New is the xpost.Factory for Mastodon. The destination credential is either
// a JSON Config or a bare access token for the server in the environment.
func New(ctx context.Context, dest xpost.Destination) (xpost.Platform, error) {
	cfg, err := loadConfig(dest.Credential)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig builds a client from explicit settings.
func NewWithConfig(cfg Config) *Client {
	mastodonClient := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	mastodonClient.Timeout = requestTimeout

	return &Client{client: mastodonClient, cfg: cfg}
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// UploadMedia uploads an attachment with its description.
func (c *Client) UploadMedia(ctx context.Context, asset xpost.MediaAsset) (string, error) {
	attachment, err := c.client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        bytes.NewReader(asset.Data),
		Description: asset.AltText,
	})
	if err != nil {
		return "", wrapError("upload media", err)
	}
	return string(attachment.ID), nil
}

// CreatePost publishes a new toot.
func (c *Client) CreatePost(ctx context.Context, caption string, media []xpost.UploadedMedia) (string, error) {
	mediaIDs := make([]mastodonapi.ID, 0, len(media))
	for _, m := range media {
		mediaIDs = append(mediaIDs, mastodonapi.ID(m.ID))
	}

	status, err := c.client.PostStatus(ctx, &mastodonapi.Toot{
		Status:   caption,
		MediaIDs: mediaIDs,
	})
	if err != nil {
		return "", wrapError("post status", err)
	}

	return string(status.ID), nil
}

// CreateStory is not a Mastodon concept.
func (c *Client) CreateStory(context.Context, xpost.UploadedMedia) (string, error) {
	return "", xpost.UnsupportedError{Provider: providerName, Op: "stories"}
}

// UpdatePost is not supported by this client.
func (c *Client) UpdatePost(context.Context, string, string) error {
	return xpost.UnsupportedError{Provider: providerName, Op: "status editing"}
}

// ValidateCredential checks the configuration, and with force asks the server
// for the account behind the token.
func (c *Client) ValidateCredential(ctx context.Context, force bool) xpost.Identity {
	if c.cfg.Server == "" || c.cfg.AccessToken == "" {
		return xpost.Identity{Reason: "server and access token are required"}
	}
	if !force {
		return xpost.Identity{Valid: true, Name: "Mastodon account (structural check)"}
	}
	account, err := c.client.GetAccountCurrentUser(ctx)
	if err != nil {
		return xpost.Identity{Reason: fmt.Sprintf("verify credentials: %v", wrapError("verify credentials", err))}
	}
	return xpost.Identity{Valid: true, Name: "@" + account.Acct}
}

// wrapError maps go-mastodon failures onto the xpost taxonomy. The library
// reports HTTP failures as "bad request: <status> <reason>: <body>".
func wrapError(op string, err error) error {
	if xpost.IsTransportError(err) {
		return xpost.TransientError{Provider: providerName, Err: fmt.Errorf("%s: %w", op, err)}
	}
	if status := httpStatus(err); status > 0 {
		return xpost.ClassifyStatus(providerName, status, 0, fmt.Errorf("%s: %w", op, err), err.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

func httpStatus(err error) int {
	var status int
	msg := err.Error()
	if i := strings.Index(msg, "bad request: "); i >= 0 {
		if _, scanErr := fmt.Sscanf(msg[i+len("bad request: "):], "%d", &status); scanErr == nil {
			return status
		}
	}
	return 0
}

func loadConfig(credential string) (Config, error) {
	credential = strings.TrimSpace(credential)
	if strings.HasPrefix(credential, "{") {
		var cfg Config
		if err := json.Unmarshal([]byte(credential), &cfg); err != nil {
			return Config{}, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("invalid credential JSON: %v", err)}
		}
		if cfg.Server == "" || cfg.AccessToken == "" {
			return Config{}, xpost.ValidationError{Provider: providerName, Reason: "credential requires server and accessToken"}
		}
		return cfg, nil
	}

	cfg, err := loadConfigFromEnv(credential != "")
	if err != nil {
		return Config{}, err
	}
	if credential != "" {
		cfg.AccessToken = credential
	}
	return cfg, nil
}

func loadConfigFromEnv(haveToken bool) (Config, error) {
	cfg := Config{
		Server:       strings.TrimSpace(os.Getenv(envServer)),
		AccessToken:  strings.TrimSpace(os.Getenv(envAccessToken)),
		ClientID:     strings.TrimSpace(os.Getenv(envClientID)),
		ClientSecret: strings.TrimSpace(os.Getenv(envClientSecret)),
	}

	var missing []string
	if cfg.Server == "" {
		missing = append(missing, envServer)
	}
	if cfg.AccessToken == "" && !haveToken {
		missing = append(missing, envAccessToken)
	}

	if len(missing) > 0 {
		return Config{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
