package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"

	"github.com/blacktop/xpostd/internal/logutil"
	session "github.com/blacktop/xpostd/internal/upload"
	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"
	statusEndpoint   = "https://api.x.com/2/media/upload"
	meEndpoint       = "https://api.x.com/2/users/me"

	categoryTweetVideo = "tweet_video"
)

// mediaTransport drives the X INIT/APPEND/FINALIZE/STATUS commands.
type mediaTransport struct {
	c    *Client
	kind xpost.MediaKind
}

func (c *Client) transport(kind xpost.MediaKind) *mediaTransport {
	return &mediaTransport{c: c, kind: kind}
}

func (t *mediaTransport) Start(ctx context.Context, m session.Media) (session.Session, error) {
	mediaType, category := resolveMediaType(m.MimeType, t.kind)
	logutil.Debugf("initialize upload: media_type=%s bytes=%d", mediaType, m.Size)
	res, err := upload.Initialize(ctx, t.c.api, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    int(m.Size),
		MediaCategory: category,
	})
	if err != nil {
		return session.Session{}, wrapError("initialize upload", err)
	}
	if err := partialError(res.Errors); err != nil {
		return session.Session{}, fmt.Errorf("initialize upload: %w", err)
	}
	id := res.Data.MediaID
	logutil.Debugf("initialize complete: media_id=%s", id)
	return session.Session{ID: id, AssetID: id}, nil
}

func (t *mediaTransport) Transfer(ctx context.Context, sess session.Session, chunk session.Chunk) error {
	in := &uploadtypes.AppendInput{
		MediaID:      sess.ID,
		Media:        bytes.NewReader(chunk.Data),
		SegmentIndex: chunk.Index,
	}
	in.GenerateBoundary()

	logutil.Debugf("append upload: media_id=%s segment=%d offset=%d", sess.ID, chunk.Index, chunk.Offset)
	res, err := upload.Append(ctx, t.c.api, in)
	if err != nil {
		return wrapError("append upload", err)
	}
	if err := partialError(res.Errors); err != nil {
		return fmt.Errorf("append upload: %w", err)
	}
	return nil
}

func (t *mediaTransport) Finish(ctx context.Context, sess session.Session) (string, error) {
	res, err := upload.Finalize(ctx, t.c.api, &uploadtypes.FinalizeInput{MediaID: sess.ID})
	if err != nil {
		return "", wrapError("finalize upload", err)
	}
	if err := partialError(res.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	state := res.Data.ProcessingInfo.State
	logutil.Debugf("finalize state=%s media_id=%s", state, sess.ID)
	if readiness(string(state)) == session.Failed {
		return "", xpost.PermanentError{Provider: providerName, Code: "media_processing", Err: fmt.Errorf("media processing failed: state=%s", state)}
	}
	return sess.ID, nil
}

func (t *mediaTransport) Status(ctx context.Context, mediaID string) (session.Readiness, error) {
	res := &statusResponse{}
	params := &queryParameters{values: map[string]string{"command": "STATUS", "media_id": mediaID}}
	if err := t.c.api.CallAPI(ctx, statusEndpoint, http.MethodGet, params, res); err != nil {
		return session.Processing, wrapError("media status", err)
	}
	return readiness(res.Data.ProcessingInfo.State), nil
}

func readiness(state string) session.Readiness {
	switch strings.ToLower(state) {
	case "", string(resources.ProcessingInfoStateSucceeded):
		return session.Ready
	case string(resources.ProcessingInfoStateInProgress), string(resources.ProcessingInfoStatePending):
		return session.Processing
	default:
		return session.Failed
	}
}

func (c *Client) setAltText(ctx context.Context, mediaID, altText string) error {
	params := &metadataParameters{
		mediaID: mediaID,
		altText: altText,
	}

	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")

	if err := c.api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &emptyResponse{}); err != nil {
		return wrapError("set alt text", err)
	}
	logutil.Debugf("alt text set: media_id=%s", mediaID)

	return nil
}

func (c *Client) me(ctx context.Context) (string, error) {
	res := &meResponse{}
	if err := c.api.CallAPI(ctx, meEndpoint, http.MethodGet, &queryParameters{}, res); err != nil {
		return "", wrapError("verify credentials", err)
	}
	if res.Data.Username == "" {
		return "", fmt.Errorf("verify credentials: empty response")
	}
	return res.Data.Username, nil
}

func resolveMediaType(mimeType string, kind xpost.MediaKind) (uploadtypes.MediaType, uploadtypes.MediaCategory) {
	if kind == xpost.MediaVideo {
		if mimeType == "" {
			mimeType = "video/mp4"
		}
		return uploadtypes.MediaType(mimeType), uploadtypes.MediaCategory(categoryTweetVideo)
	}
	switch strings.ToLower(mimeType) {
	case "image/png":
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage
	case "image/gif":
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF
	case "image/webp":
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage
	default:
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage
	}
}

type metadataParameters struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParameters) SetAccessToken(token string) {
	p.accessToken = token
}

func (p *metadataParameters) AccessToken() string {
	return p.accessToken
}

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string {
	return endpointBase
}

func (p *metadataParameters) Body() (io.Reader, error) {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{}
	body.MediaID = p.mediaID
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParameters) ParameterMap() map[string]string {
	return map[string]string{}
}

// queryParameters carries GET query values, which are also signed.
type queryParameters struct {
	values      map[string]string
	accessToken string
}

func (p *queryParameters) SetAccessToken(token string) { p.accessToken = token }

func (p *queryParameters) AccessToken() string { return p.accessToken }

func (p *queryParameters) ResolveEndpoint(endpointBase string) string {
	if len(p.values) == 0 {
		return endpointBase
	}
	q := url.Values{}
	for k, v := range p.values {
		q.Set(k, v)
	}
	return endpointBase + "?" + q.Encode()
}

func (p *queryParameters) Body() (io.Reader, error) { return nil, nil }

func (p *queryParameters) ParameterMap() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

type emptyResponse struct{}

func (emptyResponse) HasPartialError() bool { return false }

type statusResponse struct {
	Data struct {
		ID             string `json:"id"`
		ProcessingInfo struct {
			State          string `json:"state"`
			CheckAfterSecs int    `json:"check_after_secs"`
		} `json:"processing_info"`
	} `json:"data"`
}

func (statusResponse) HasPartialError() bool { return false }

type meResponse struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

func (meResponse) HasPartialError() bool { return false }
