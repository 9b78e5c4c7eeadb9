package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/blacktop/xpostd/internal/upload"
	"github.com/blacktop/xpostd/internal/xpost"
)

// videoTransport drives the Graph resumable video upload
// (upload_phase=start|transfer|finish) and polls video_status.
type videoTransport struct {
	c *Client
}

type startResponse struct {
	VideoID         string `json:"video_id"`
	UploadSessionID string `json:"upload_session_id"`
	offsetResponse
}

// offsetResponse carries the byte range Graph expects next.
type offsetResponse struct {
	StartOffset string `json:"start_offset"`
	EndOffset   string `json:"end_offset"`
}

// expect fails when Graph asks for a different next offset than the one the
// upload is about to send. A missing offset is not checked.
func (o offsetResponse) expect(phase string, next int64) error {
	if o.StartOffset == "" {
		return nil
	}
	got, err := strconv.ParseInt(o.StartOffset, 10, 64)
	if err != nil {
		return xpost.PermanentError{Provider: providerName, Code: "bad_response", Err: fmt.Errorf("video %s: bad start_offset %q", phase, o.StartOffset)}
	}
	if got != next {
		return xpost.PermanentError{Provider: providerName, Code: "offset_mismatch", Err: fmt.Errorf("video %s: server expects offset %d, next chunk starts at %d", phase, got, next)}
	}
	return nil
}

func (t *videoTransport) path() string { return "/" + t.c.cfg.PageID + "/videos" }

func (t *videoTransport) Start(ctx context.Context, media upload.Media) (upload.Session, error) {
	var resp startResponse
	params := url.Values{
		"upload_phase": {"start"},
		"file_size":    {strconv.FormatInt(media.Size, 10)},
	}
	if err := t.c.call(ctx, http.MethodPost, t.c.cfg.VideoURL, t.path(), params, nil, &resp); err != nil {
		return upload.Session{}, fmt.Errorf("video start: %w", err)
	}
	if resp.UploadSessionID == "" {
		return upload.Session{}, xpost.PermanentError{Provider: providerName, Code: "bad_response", Err: fmt.Errorf("video start: no upload session")}
	}
	if err := resp.expect("start", 0); err != nil {
		return upload.Session{}, err
	}
	return upload.Session{ID: resp.UploadSessionID, AssetID: resp.VideoID}, nil
}

func (t *videoTransport) Transfer(ctx context.Context, sess upload.Session, chunk upload.Chunk) error {
	params := url.Values{
		"upload_phase":      {"transfer"},
		"upload_session_id": {sess.ID},
		"start_offset":      {strconv.FormatInt(chunk.Offset, 10)},
	}
	file := &formFile{field: "video_file_chunk", filename: fmt.Sprintf("chunk-%d", chunk.Index), data: chunk.Data}
	var resp offsetResponse
	if err := t.c.call(ctx, http.MethodPost, t.c.cfg.VideoURL, t.path(), params, file, &resp); err != nil {
		return fmt.Errorf("video transfer: %w", err)
	}
	return resp.expect("transfer", chunk.Offset+int64(len(chunk.Data)))
}

// Finish closes the session. The video id was allocated at start, so an
// empty id is returned and the session's asset id is used.
func (t *videoTransport) Finish(ctx context.Context, sess upload.Session) (string, error) {
	var resp successResponse
	params := url.Values{
		"upload_phase":      {"finish"},
		"upload_session_id": {sess.ID},
		"published":         {"false"},
	}
	if err := t.c.call(ctx, http.MethodPost, t.c.cfg.VideoURL, t.path(), params, nil, &resp); err != nil {
		return "", fmt.Errorf("video finish: %w", err)
	}
	if !resp.Success {
		return "", xpost.PermanentError{Provider: providerName, Code: "finish_rejected", Err: fmt.Errorf("video finish: not accepted")}
	}
	return "", nil
}

func (t *videoTransport) Status(ctx context.Context, assetID string) (upload.Readiness, error) {
	var resp struct {
		Status struct {
			VideoStatus string `json:"video_status"`
		} `json:"status"`
	}
	if err := t.c.call(ctx, http.MethodGet, t.c.cfg.BaseURL, "/"+assetID, url.Values{"fields": {"status"}}, nil, &resp); err != nil {
		return upload.Processing, fmt.Errorf("video status: %w", err)
	}
	return readiness(resp.Status.VideoStatus), nil
}

func readiness(status string) upload.Readiness {
	switch status {
	case "ready":
		return upload.Ready
	case "error", "expired", "deleted":
		return upload.Failed
	default:
		return upload.Processing
	}
}
