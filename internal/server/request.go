package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/blacktop/xpostd/internal/xpost"
)

type mediaBody struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	AltText  string `json:"altText,omitempty"`
}

type optionsBody struct {
	PublishToFeed  *bool `json:"publishToFeed,omitempty"`
	PublishToStory bool  `json:"publishToStory,omitempty"`
	DryRun         bool  `json:"dryRun,omitempty"`
}

type postBody struct {
	Caption  string      `json:"caption"`
	Priority string      `json:"priority,omitempty"`
	Media    []mediaBody `json:"media,omitempty"`
	Options  optionsBody `json:"options"`
}

type updateBody struct {
	Caption  string `json:"caption"`
	Priority string `json:"priority,omitempty"`
	DryRun   bool   `json:"dryRun,omitempty"`
}

// destination reads the target account from the request headers.
func destination(r *http.Request) xpost.Destination {
	return xpost.Destination{
		Platform:   strings.TrimSpace(r.Header.Get(headerPlatform)),
		ID:         strings.TrimSpace(r.Header.Get(headerPlatformID)),
		Credential: r.Header.Get(headerPlatformToken),
	}
}

// decodePost accepts a JSON body or a multipart form with "media" files.
func decodePost(r *http.Request) (xpost.Request, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return decodeMultipart(r)
	}

	var body postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return xpost.Request{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	return body.request()
}

func (b postBody) request() (xpost.Request, error) {
	pri, err := xpost.ParsePriority(b.Priority)
	if err != nil {
		return xpost.Request{}, err
	}
	req := xpost.Request{
		Caption:  b.Caption,
		Priority: pri,
		Options: xpost.Options{
			PublishToFeed:  b.Options.PublishToFeed == nil || *b.Options.PublishToFeed,
			PublishToStory: b.Options.PublishToStory,
			DryRun:         b.Options.DryRun,
		},
	}
	for i, m := range b.Media {
		kind, err := xpost.ParseMediaKind(m.Type)
		if err != nil {
			return xpost.Request{}, fmt.Errorf("media[%d]: %w", i, err)
		}
		asset := xpost.MediaAsset{URL: m.URL, Kind: kind, MimeType: m.MimeType, AltText: m.AltText}
		if m.Data != "" {
			data, err := base64.StdEncoding.DecodeString(m.Data)
			if err != nil {
				return xpost.Request{}, fmt.Errorf("media[%d]: invalid base64 data: %w", i, err)
			}
			asset.Data = data
		}
		req.Media = append(req.Media, asset)
	}
	return req, nil
}

func decodeMultipart(r *http.Request) (xpost.Request, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return xpost.Request{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	form := r.MultipartForm

	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[len(v)-1]
		}
		return ""
	}
	flag := func(key string, def bool) (bool, error) {
		v := value(key)
		if v == "" {
			return def, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		return b, nil
	}

	body := postBody{Caption: value("caption"), Priority: value("priority")}
	feed, err := flag("publishToFeed", true)
	if err != nil {
		return xpost.Request{}, err
	}
	body.Options.PublishToFeed = &feed
	if body.Options.PublishToStory, err = flag("publishToStory", false); err != nil {
		return xpost.Request{}, err
	}
	if body.Options.DryRun, err = flag("dryRun", false); err != nil {
		return xpost.Request{}, err
	}

	req, err := body.request()
	if err != nil {
		return xpost.Request{}, err
	}
	alts := form.Value["altText"]
	for i, fh := range form.File["media"] {
		f, err := fh.Open()
		if err != nil {
			return xpost.Request{}, fmt.Errorf("media[%d]: %w", i, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return xpost.Request{}, fmt.Errorf("media[%d]: %w", i, err)
		}
		mt := fh.Header.Get("Content-Type")
		kind := xpost.MediaImage
		if strings.HasPrefix(mt, "video/") {
			kind = xpost.MediaVideo
		}
		asset := xpost.MediaAsset{Data: data, Kind: kind, MimeType: mt}
		if i < len(alts) {
			asset.AltText = alts[i]
		}
		req.Media = append(req.Media, asset)
	}
	return req, nil
}

func decodeUpdate(r *http.Request) (string, xpost.Priority, bool, error) {
	var body updateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", 0, false, fmt.Errorf("invalid JSON body: %w", err)
	}
	pri := xpost.PriorityHigh
	if body.Priority != "" {
		p, err := xpost.ParsePriority(body.Priority)
		if err != nil {
			return "", 0, false, err
		}
		pri = p
	}
	return body.Caption, pri, body.DryRun, nil
}
