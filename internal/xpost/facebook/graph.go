package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
)

// Graph error codes that mean the app or page is being throttled.
var throttleCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

// Graph error codes for unknown or temporary server-side failures.
var transientCodes = map[int]bool{1: true, 2: true}

type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode,omitempty"`
	IsTransient  bool   `json:"is_transient,omitempty"`
	FBTraceID    string `json:"fbtrace_id,omitempty"`
}

func (e *graphError) Error() string {
	return fmt.Sprintf("%s (type: %s, code: %d)", e.Message, e.Type, e.Code)
}

type envelope struct {
	Error *graphError `json:"error,omitempty"`
}

// formFile is a binary part of a multipart request.
type formFile struct {
	field    string
	filename string
	data     []byte
}

// call sends one Graph request and decodes the JSON response into out.
// GET sends params in the query. POST sends a form, or multipart when file is set.
func (c *Client) call(ctx context.Context, method, base, path string, params url.Values, file *formFile, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.cfg.AccessToken)

	var (
		body        io.Reader
		contentType string
		endpoint    = strings.TrimRight(base, "/") + path
	)
	switch {
	case method == http.MethodGet:
		endpoint += "?" + params.Encode()
	case file != nil:
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for k, vs := range params {
			for _, v := range vs {
				if err := w.WriteField(k, v); err != nil {
					return fmt.Errorf("build form: %w", err)
				}
			}
		}
		part, err := w.CreateFormFile(file.field, file.filename)
		if err != nil {
			return fmt.Errorf("build form: %w", err)
		}
		if _, err := part.Write(file.data); err != nil {
			return fmt.Errorf("build form: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("build form: %w", err)
		}
		body, contentType = buf, w.FormDataContentType()
	default:
		body, contentType = strings.NewReader(params.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return xpost.TransientError{Provider: providerName, Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()
	logutil.Debugf("graph %s %s: status=%d duration=%s", method, path, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return xpost.TransientError{Provider: providerName, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)
	if env.Error != nil || resp.StatusCode >= http.StatusBadRequest {
		return classify(resp, env.Error, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xpost.PermanentError{Provider: providerName, Code: "bad_response", Err: fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(raw), 200))}
	}
	return nil
}

// classify maps a failed Graph response onto the xpost taxonomy.
func classify(resp *http.Response, ge *graphError, raw []byte) error {
	var rawValue any = string(raw)
	if ge == nil {
		return xpost.ClassifyStatus(providerName, resp.StatusCode, xpost.ParseRetryAfter(resp.Header), fmt.Errorf("graph: %s", resp.Status), rawValue)
	}
	rawValue = ge

	switch {
	case throttleCodes[ge.Code] || resp.StatusCode == http.StatusTooManyRequests:
		after := xpost.ParseRetryAfter(resp.Header)
		if after == 0 {
			after = regainAfter(resp.Header)
		}
		return xpost.RateLimitedError{Provider: providerName, After: after, Raw: rawValue}
	case transientCodes[ge.Code] || ge.IsTransient || resp.StatusCode >= http.StatusInternalServerError:
		return xpost.TransientError{Provider: providerName, Status: resp.StatusCode, Err: ge, Raw: rawValue}
	default:
		return xpost.PermanentError{Provider: providerName, Code: fmt.Sprint(ge.Code), Err: ge, Raw: rawValue}
	}
}

// regainAfter reads the business use case usage header Graph attaches to
// throttled responses. The estimate is given in minutes.
func regainAfter(h http.Header) time.Duration {
	v := h.Get("X-Business-Use-Case-Usage")
	if v == "" {
		return 0
	}
	var usage map[string][]struct {
		EstimatedTimeToRegainAccess int `json:"estimated_time_to_regain_access"`
	}
	if err := json.Unmarshal([]byte(v), &usage); err != nil {
		return 0
	}
	var minutes int
	for _, entries := range usage {
		for _, e := range entries {
			minutes = max(minutes, e.EstimatedTimeToRegainAccess)
		}
	}
	return time.Duration(minutes) * time.Minute
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
