// Package publish orchestrates publish requests for one destination and keeps
// the registry of destinations.
package publish

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/queue"
	"github.com/blacktop/xpostd/internal/retry"
	"github.com/blacktop/xpostd/internal/status"
	"github.com/blacktop/xpostd/internal/upload"
	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	kindPost   = "post"
	kindUpdate = "update"
)

// Service publishes requests for one destination through its queue.
type Service struct {
	dest     xpost.Destination
	platform xpost.Platform
	queue    *queue.DestinationQueue
	sink     status.Sink
	cfg      Config
	retry    *retry.Executor
	upload   *upload.Protocol
	log      *log.Logger
}

// NewService wires a platform adapter to a destination queue.
func NewService(dest xpost.Destination, platform xpost.Platform, q *queue.DestinationQueue, sink status.Sink, cfg Config) *Service {
	lg := logutil.With("destination", dest.Key())
	r := cfg.executor(platform.Name()).WithClassifier(platform.Name(), xpost.ClassifierFor(platform))
	r.Log = lg
	p := cfg.protocol(r)
	p.Log = lg
	return &Service{
		dest:     dest,
		platform: platform,
		queue:    q,
		sink:     status.Safe(sink),
		cfg:      cfg,
		retry:    r,
		upload:   p,
		log:      lg,
	}
}

// Destination is the destination this service publishes to.
func (s *Service) Destination() xpost.Destination { return s.dest }

// Stats returns the destination's queue snapshot.
func (s *Service) Stats() queue.Stats { return s.queue.Stats() }

// Validate checks the destination's credential.
func (s *Service) Validate(ctx context.Context, force bool) xpost.Identity {
	return s.platform.ValidateCredential(ctx, force)
}

// Publish accepts req and runs it to a terminal result. An error is returned
// only when req is rejected before acceptance.
func (s *Service) Publish(ctx context.Context, req xpost.Request) (xpost.Result, error) {
	if err := req.Validate(); err != nil {
		return xpost.Result{}, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	req.Caption = NormalizeCaption(req.Caption, s.cfg.CaptionMinLength, s.cfg.CaptionAdvisory)
	dryRun := s.cfg.DryRun || req.Options.DryRun

	// Accepted requests always finish, even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	t := s.track(kindPost, req.CorrelationID, req.Priority, dryRun)
	t.emit(status.Queued, "")

	res, err := queue.Add(ctx, s.queue, req.Priority, queue.Publish, func(ctx context.Context) (xpost.Result, error) {
		t.emit(status.Processing, "publishing")
		if dryRun {
			return s.simulate(ctx, "")
		}
		return s.publish(ctx, req), nil
	})
	if err != nil {
		s.log.Error("post execution error", "correlation_id", req.CorrelationID, "err", err)
		res = failed(err)
	}
	t.finish(res)
	return res, nil
}

// UpdatePost replaces the caption of an existing post. Media is never touched.
func (s *Service) UpdatePost(ctx context.Context, postID, caption string, pri xpost.Priority, dryRun bool) xpost.Result {
	correlationID := uuid.NewString()
	dryRun = s.cfg.DryRun || dryRun

	ctx = context.WithoutCancel(ctx)
	t := s.track(kindUpdate, correlationID, pri, dryRun)
	t.emit(status.Queued, "")

	if strings.TrimSpace(postID) == "" {
		res := failed(xpost.ValidationError{Provider: s.platform.Name(), Reason: "post id is required"})
		t.finish(res)
		return res
	}

	res, err := queue.Add(ctx, s.queue, pri, queue.Publish, func(ctx context.Context) (xpost.Result, error) {
		t.emit(status.Processing, "updating post")
		if dryRun {
			return s.simulate(ctx, postID)
		}
		err := retry.Run(ctx, s.retry, func(ctx context.Context) error {
			return s.platform.UpdatePost(ctx, postID, caption)
		})
		if err != nil {
			return failed(err), nil
		}
		return succeeded(postID), nil
	})
	if err != nil {
		res = failed(err)
	}
	if res.Success {
		s.log.Info("post updated", "post_id", postID, "correlation_id", correlationID)
	} else {
		s.log.Warn("post update failed", "post_id", postID, "correlation_id", correlationID, "code", res.Error.Code, "err", res.Error.Message)
	}
	t.finish(res)
	return res
}

// simulate stands in for the whole upstream exchange in dry-run mode.
func (s *Service) simulate(ctx context.Context, postID string) (xpost.Result, error) {
	if err := s.cfg.sleep(ctx, s.cfg.DryRunLatency); err != nil {
		return failed(err), nil
	}
	if postID == "" {
		postID = dryRunPrefix + uuid.NewString()
	}
	s.log.Debug("dry run", "post_id", postID)
	return succeeded(postID), nil
}

func (s *Service) publish(ctx context.Context, req xpost.Request) xpost.Result {
	lg := s.log.With("correlation_id", req.CorrelationID)
	targets := req.Options.Targets()
	if len(targets) == 0 {
		return failed(xpost.ErrNoAction)
	}

	media, err := s.uploadAll(ctx, req, lg)
	if err != nil {
		return failed(err)
	}

	var results []xpost.Result
	for _, target := range targets {
		switch target {
		case xpost.TargetFeed:
			id, err := retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
				return s.platform.CreatePost(ctx, req.Caption, media)
			})
			if err != nil {
				lg.Error("feed post failed", "err", err)
				results = append(results, failed(err))
				continue
			}
			lg.Info("feed post published", "post_id", id)
			results = append(results, succeeded(id))
		case xpost.TargetStory:
			if len(media) == 0 {
				lg.Debug("story skipped, no media uploaded")
				continue
			}
			id, err := retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
				return s.platform.CreateStory(ctx, media[0])
			})
			if err != nil {
				lg.Error("story failed", "err", err)
				results = append(results, failed(err))
				continue
			}
			lg.Info("story published", "post_id", id)
			results = append(results, succeeded(id))
		default:
			lg.Warn("unknown publish target", "target", target)
		}
	}
	if len(results) == 0 {
		return failed(xpost.ErrNoAction)
	}
	return results[0]
}

// uploadAll uploads every asset on the general lane. Assets that fail are
// dropped; when none succeed the request continues caption-only. A shutdown
// during uploads fails the request instead.
func (s *Service) uploadAll(ctx context.Context, req xpost.Request, lg *log.Logger) ([]xpost.UploadedMedia, error) {
	if len(req.Media) == 0 {
		return nil, nil
	}
	uploaded := make([]*xpost.UploadedMedia, len(req.Media))
	errs := make([]error, len(req.Media))

	var g errgroup.Group
	for i, asset := range req.Media {
		g.Go(func() error {
			id, err := queue.Add(ctx, s.queue, req.Priority, queue.General, func(ctx context.Context) (string, error) {
				return s.uploadOne(ctx, asset)
			})
			if err != nil {
				lg.Warn("media upload failed", "index", i, "kind", asset.Kind, "err", err)
				errs[i] = err
				return err
			}
			uploaded[i] = &xpost.UploadedMedia{ID: id, Kind: asset.Kind, AltText: asset.AltText}
			return nil
		})
	}
	err := g.Wait()
	if errors.Is(errors.Join(errs...), queue.ErrClosed) {
		lg.Warn("media upload interrupted by shutdown")
		return nil, queue.ErrClosed
	}

	var out []xpost.UploadedMedia
	for _, m := range uploaded {
		if m != nil {
			out = append(out, *m)
		}
	}
	switch {
	case err != nil && len(out) == 0:
		lg.Error("media upload failed, falling back to text-only", "err", err)
	case err != nil:
		lg.Warn("some media failed to upload", "uploaded", len(out), "requested", len(req.Media))
	default:
		lg.Debug("media uploaded", "count", len(out))
	}
	return out, nil
}

func (s *Service) uploadOne(ctx context.Context, asset xpost.MediaAsset) (string, error) {
	if !asset.Inline() {
		fetched, err := retry.Do(ctx, s.retry.WithClassifier("media", xpost.Classify), func(ctx context.Context) (xpost.MediaAsset, error) {
			data, mt, err := fetchMedia(ctx, s.cfg.HTTPClient, asset.URL, s.cfg.MaxMediaBytes)
			if err != nil {
				return asset, err
			}
			out := asset
			out.Data = data
			out.URL = ""
			if out.MimeType == "" {
				out.MimeType = mt
			}
			return out, nil
		})
		if err != nil {
			return "", err
		}
		asset = fetched
	}

	if t := s.chunkedTransport(asset); t != nil {
		return s.upload.Upload(ctx, t, asset.Data, asset.ResolvedMimeType(), asset.Kind == xpost.MediaVideo)
	}
	return retry.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.platform.UploadMedia(ctx, asset)
	})
}

func (s *Service) chunkedTransport(asset xpost.MediaAsset) upload.Transport {
	cu, ok := s.platform.(xpost.ChunkedUploader)
	if !ok {
		return nil
	}
	if asset.Kind != xpost.MediaVideo && (s.cfg.ChunkThreshold <= 0 || int64(len(asset.Data)) < s.cfg.ChunkThreshold) {
		return nil
	}
	return cu.ChunkedTransport(asset.Kind)
}

// NormalizeCaption replaces captions shorter than minLen runes with advisory.
func NormalizeCaption(caption string, minLen int, advisory string) string {
	if minLen <= 0 || advisory == "" {
		return caption
	}
	if utf8.RuneCountInString(strings.TrimSpace(caption)) < minLen {
		return advisory
	}
	return caption
}

// tracker emits the lifecycle of one request and guarantees a single
// terminal event.
type tracker struct {
	sink status.Sink
	base status.Event
	once sync.Once
}

func (s *Service) track(kind, correlationID string, pri xpost.Priority, dryRun bool) *tracker {
	return &tracker{
		sink: s.sink,
		base: status.Event{
			Destination:   s.dest.Key(),
			Platform:      s.platform.Name(),
			CorrelationID: correlationID,
			Kind:          kind,
			Priority:      pri.String(),
			DryRun:        dryRun,
		},
	}
}

func (t *tracker) emit(st status.Status, task string) {
	ev := t.base
	ev.Status = st
	ev.Task = task
	ev.Timestamp = time.Now().UTC()
	t.sink.Emit(ev)
}

func (t *tracker) finish(res xpost.Result) {
	t.once.Do(func() {
		ev := t.base
		ev.Status = status.Completed
		if !res.Success {
			ev.Status = status.Failed
		}
		ev.PostID = res.PostID
		ev.Error = res.Error
		ev.Timestamp = res.Timestamp
		t.sink.Emit(ev)
	})
}

// IsDryRunID reports whether id was synthesized by a dry run.
func IsDryRunID(id string) bool { return strings.HasPrefix(id, dryRunPrefix) }
