// Package facebook publishes to a Facebook Page through the Graph API.
package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/upload"
	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	envPageID      = "XPOST_FACEBOOK_PAGE_ID"
	envAccessToken = "XPOST_FACEBOOK_ACCESS_TOKEN"

	DefaultBaseURL  = "https://graph.facebook.com/v24.0"
	DefaultVideoURL = "https://graph-video.facebook.com/v24.0"

	providerName   = "facebook"
	requestTimeout = 60 * time.Second
)

// Config identifies the page and the page access token.
type Config struct {
	PageID      string `json:"pageId"`
	AccessToken string `json:"accessToken"`
	BaseURL     string `json:"baseUrl,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
}

// Client implements xpost.Platform for a Facebook Page.
type Client struct {
	cfg  Config
	http *http.Client
}

// New is the xpost.Factory for Facebook. The destination id is the page id and
// the credential is the page access token, or a JSON Config.
func New(ctx context.Context, dest xpost.Destination) (xpost.Platform, error) {
	cfg, err := loadConfig(dest)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, nil), nil
}

// NewWithConfig builds a client. A nil httpClient uses a client with a
// request timeout.
func NewWithConfig(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.VideoURL == "" {
		cfg.VideoURL = cfg.BaseURL
		if cfg.BaseURL == DefaultBaseURL {
			cfg.VideoURL = DefaultVideoURL
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

type idResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
}

type successResponse struct {
	Success bool   `json:"success"`
	PostID  string `json:"post_id,omitempty"`
}

// UploadMedia stores the asset on the page without publishing it.
func (c *Client) UploadMedia(ctx context.Context, asset xpost.MediaAsset) (string, error) {
	params := url.Values{"published": {"false"}}
	path, base, field, name := "/"+c.cfg.PageID+"/photos", c.cfg.BaseURL, "source", "upload.png"
	if asset.Kind == xpost.MediaVideo {
		path, base, name = "/"+c.cfg.PageID+"/videos", c.cfg.VideoURL, "upload.mp4"
		if asset.AltText != "" {
			params.Set("description", asset.AltText)
		}
	} else if asset.AltText != "" {
		params.Set("caption", asset.AltText)
	}

	var resp idResponse
	if err := c.call(ctx, http.MethodPost, base, path, params, &formFile{field: field, filename: name, data: asset.Data}, &resp); err != nil {
		return "", fmt.Errorf("upload %s: %w", asset.Kind, err)
	}
	if resp.ID == "" {
		return "", xpost.PermanentError{Provider: providerName, Code: "bad_response", Err: fmt.Errorf("upload %s: no id returned", asset.Kind)}
	}
	return resp.ID, nil
}

// ChunkedTransport returns the resumable video session for video.
func (c *Client) ChunkedTransport(kind xpost.MediaKind) upload.Transport {
	if kind != xpost.MediaVideo {
		return nil
	}
	return &videoTransport{c: c}
}

// CreatePost publishes a page feed post with the uploaded media attached.
func (c *Client) CreatePost(ctx context.Context, caption string, media []xpost.UploadedMedia) (string, error) {
	params := url.Values{"message": {caption}}
	if len(media) > 0 {
		type attached struct {
			MediaFBID string `json:"media_fbid"`
		}
		list := make([]attached, 0, len(media))
		for _, m := range media {
			list = append(list, attached{MediaFBID: m.ID})
		}
		encoded, err := json.Marshal(list)
		if err != nil {
			return "", fmt.Errorf("encode attached media: %w", err)
		}
		params.Set("attached_media", string(encoded))
	}

	var resp idResponse
	if err := c.call(ctx, http.MethodPost, c.cfg.BaseURL, "/"+c.cfg.PageID+"/feed", params, nil, &resp); err != nil {
		return "", fmt.Errorf("create feed post: %w", err)
	}
	return resp.ID, nil
}

// CreateStory publishes an uploaded photo as a page story.
func (c *Client) CreateStory(ctx context.Context, media xpost.UploadedMedia) (string, error) {
	if media.Kind != xpost.MediaImage {
		return "", xpost.UnsupportedError{Provider: providerName, Op: "video stories"}
	}
	var resp successResponse
	if err := c.call(ctx, http.MethodPost, c.cfg.BaseURL, "/"+c.cfg.PageID+"/photo_stories", url.Values{"photo_id": {media.ID}}, nil, &resp); err != nil {
		return "", fmt.Errorf("create story: %w", err)
	}
	if !resp.Success || resp.PostID == "" {
		return "", xpost.PermanentError{Provider: providerName, Code: "story_rejected", Err: fmt.Errorf("create story: not accepted")}
	}
	return resp.PostID, nil
}

// UpdatePost replaces the message of an existing post.
func (c *Client) UpdatePost(ctx context.Context, postID, caption string) error {
	var resp successResponse
	if err := c.call(ctx, http.MethodPost, c.cfg.BaseURL, "/"+postID, url.Values{"message": {caption}}, nil, &resp); err != nil {
		return fmt.Errorf("update post %s: %w", postID, err)
	}
	if !resp.Success {
		return xpost.PermanentError{Provider: providerName, Code: "update_rejected", Err: fmt.Errorf("update post %s: not accepted", postID)}
	}
	return nil
}

// ValidateCredential checks the configuration, and with force reads the page.
func (c *Client) ValidateCredential(ctx context.Context, force bool) xpost.Identity {
	if c.cfg.PageID == "" || c.cfg.AccessToken == "" {
		return xpost.Identity{Reason: "page id and access token are required"}
	}
	if !force {
		return xpost.Identity{Valid: true, Name: "Facebook page " + c.cfg.PageID + " (structural check)"}
	}
	var page struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.call(ctx, http.MethodGet, c.cfg.BaseURL, "/"+c.cfg.PageID, url.Values{"fields": {"id,name"}}, nil, &page); err != nil {
		return xpost.Identity{Reason: err.Error()}
	}
	return xpost.Identity{Valid: true, Name: page.Name}
}

func loadConfig(dest xpost.Destination) (Config, error) {
	credential := strings.TrimSpace(dest.Credential)
	if strings.HasPrefix(credential, "{") {
		var cfg Config
		if err := json.Unmarshal([]byte(credential), &cfg); err != nil {
			return Config{}, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("invalid credential JSON: %v", err)}
		}
		if cfg.PageID == "" {
			cfg.PageID = dest.ID
		}
		if cfg.PageID == "" || cfg.AccessToken == "" {
			return Config{}, xpost.ValidationError{Provider: providerName, Reason: "credential requires pageId and accessToken"}
		}
		return cfg, nil
	}
	if credential != "" {
		return Config{PageID: dest.ID, AccessToken: credential}, nil
	}
	return loadConfigFromEnv(dest.ID)
}

func loadConfigFromEnv(pageID string) (Config, error) {
	cfg := Config{
		PageID:      strings.TrimSpace(os.Getenv(envPageID)),
		AccessToken: strings.TrimSpace(os.Getenv(envAccessToken)),
	}
	if cfg.PageID == "" {
		cfg.PageID = pageID
	}

	var missing []string
	if cfg.PageID == "" {
		missing = append(missing, envPageID)
	}
	if cfg.AccessToken == "" {
		missing = append(missing, envAccessToken)
	}
	if len(missing) > 0 {
		return Config{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}
	return cfg, nil
}
