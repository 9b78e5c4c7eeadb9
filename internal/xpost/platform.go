package xpost

import (
	"context"

	"github.com/blacktop/xpostd/internal/retry"
	"github.com/blacktop/xpostd/internal/upload"
)

// Platform abstracts a social network that can publish content for one
// destination. Calls may fail with any error in the taxonomy; retrying is the
// caller's job.
type Platform interface {
	Name() string
	UploadMedia(ctx context.Context, asset MediaAsset) (string, error)
	CreatePost(ctx context.Context, caption string, media []UploadedMedia) (string, error)
	CreateStory(ctx context.Context, media UploadedMedia) (string, error)
	UpdatePost(ctx context.Context, postID, caption string) error
	ValidateCredential(ctx context.Context, force bool) Identity
}

// Classifier is implemented by platforms with their own retry rules.
type Classifier interface {
	Classify(err error) retry.Decision
}

// ChunkedUploader is implemented by platforms that accept large media through
// a resumable session.
type ChunkedUploader interface {
	// ChunkedTransport returns the session transport for kind, or nil when the
	// kind should go through UploadMedia.
	ChunkedTransport(kind MediaKind) upload.Transport
}

// Factory builds the platform adapter for a destination.
type Factory func(ctx context.Context, dest Destination) (Platform, error)

// ClassifierFor returns p's classifier, falling back to Classify.
func ClassifierFor(p Platform) retry.Classifier {
	if c, ok := p.(Classifier); ok {
		return c.Classify
	}
	return Classify
}
