package xpost

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind is the closed set of media an asset can be.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaVideo
)

func (k MediaKind) String() string {
	switch k {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	default:
		return fmt.Sprintf("MediaKind(%d)", int(k))
	}
}

// ParseMediaKind accepts "image" or "video".
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "image", "photo":
		return MediaImage, nil
	case "video":
		return MediaVideo, nil
	}
	return 0, fmt.Errorf("unknown media type %q", s)
}

// MediaAsset is a single attachment. Exactly one of Data or URL is set.
type MediaAsset struct {
	Data     []byte
	URL      string
	Kind     MediaKind
	MimeType string
	AltText  string
}

// Inline reports whether the asset carries its own bytes.
func (m MediaAsset) Inline() bool { return len(m.Data) > 0 }

// ResolvedMimeType falls back to a sensible default for the media kind.
func (m MediaAsset) ResolvedMimeType() string {
	if m.MimeType != "" {
		return m.MimeType
	}
	if m.Kind == MediaVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// UploadedMedia is an asset after the platform accepted it.
type UploadedMedia struct {
	ID      string
	Kind    MediaKind
	AltText string
}

// Target is where a request is published on the destination.
type Target int

const (
	TargetFeed Target = iota
	TargetStory
)

func (t Target) String() string {
	switch t {
	case TargetFeed:
		return "feed"
	case TargetStory:
		return "story"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// Options controls which surfaces a request is published to.
type Options struct {
	PublishToFeed  bool
	PublishToStory bool
	DryRun         bool
}

// DefaultOptions publishes to the feed only.
func DefaultOptions() Options {
	return Options{PublishToFeed: true}
}

// Targets lists the selected surfaces in publish order.
func (o Options) Targets() []Target {
	var out []Target
	if o.PublishToFeed {
		out = append(out, TargetFeed)
	}
	if o.PublishToStory {
		out = append(out, TargetStory)
	}
	return out
}

// Request defines the payload of one publish request.
type Request struct {
	Caption       string
	Media         []MediaAsset
	Priority      Priority
	Options       Options
	CorrelationID string
}

// Destination identifies an account on a platform plus its opaque credential.
type Destination struct {
	Platform   string
	ID         string
	Credential string
}

// Key is the registry key for the destination.
func (d Destination) Key() string {
	return strings.ToLower(d.Platform) + ":" + d.ID
}

// ResultError describes why a request failed.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Raw     any    `json:"raw,omitempty"`
}

// Result is the terminal outcome of one request.
type Result struct {
	Success   bool         `json:"success"`
	PostID    string       `json:"postId,omitempty"`
	Error     *ResultError `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Identity is the outcome of a credential check.
type Identity struct {
	Valid  bool   `json:"valid"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"error,omitempty"`
}
