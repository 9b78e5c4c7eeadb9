package publish

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/blacktop/xpostd/internal/xpost"
)

var defaultHTTPClient = &http.Client{Timeout: 2 * time.Minute}

// fetchMedia downloads a remote asset. Upstream failures are classified so the
// caller's retry policy applies.
func fetchMedia(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, string, error) {
	if client == nil {
		client = defaultHTTPClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", xpost.PermanentError{Provider: "media", Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", xpost.TransientError{Provider: "media", Err: fmt.Errorf("fetch %s: %w", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", xpost.ClassifyStatus("media", resp.StatusCode, xpost.ParseRetryAfter(resp.Header), fmt.Errorf("fetch %s: %s", url, resp.Status), nil)
	}
	if limit > 0 && resp.ContentLength > limit {
		return nil, "", xpost.PermanentError{Provider: "media", Code: "too_large", Err: fmt.Errorf("%s is %d bytes, limit %d", url, resp.ContentLength, limit)}
	}

	r := io.Reader(resp.Body)
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", xpost.TransientError{Provider: "media", Err: fmt.Errorf("read %s: %w", url, err)}
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", xpost.PermanentError{Provider: "media", Code: "too_large", Err: fmt.Errorf("%s exceeds %d bytes", url, limit)}
	}

	mt := resp.Header.Get("Content-Type")
	if mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			mt = parsed
		}
	}
	return data, mt, nil
}
