package publish

import (
	"context"
	"net/http"
	"time"

	"github.com/blacktop/xpostd/internal/queue"
	"github.com/blacktop/xpostd/internal/retry"
	"github.com/blacktop/xpostd/internal/upload"
)

const (
	DefaultDryRunLatency    = 500 * time.Millisecond
	DefaultCaptionMinLength = 50
	DefaultCaptionAdvisory  = "⚠️ Standard Advisory: Please check the official portal for more details."
	DefaultChunkThreshold   = 5 << 20
	DefaultMaxMediaBytes    = 512 << 20

	dryRunPrefix = "DRY_RUN_"
)

// Config is the process-wide configuration shared by every destination.
type Config struct {
	GeneralConcurrency int
	Publish            queue.PublishConfig

	MaxRetries int
	BaseDelay  time.Duration
	RetryAfter time.Duration

	// DryRun forces every request into dry-run regardless of its options.
	DryRun        bool
	DryRunLatency time.Duration

	// Captions shorter than CaptionMinLength runes are replaced by
	// CaptionAdvisory. Zero disables the rule.
	CaptionMinLength int
	CaptionAdvisory  string

	// Media at or above ChunkThreshold bytes, and all video, goes through the
	// resumable protocol when the platform offers a transport for it.
	ChunkThreshold int64
	ChunkSize      int
	PollInterval   time.Duration
	MaxPolls       int
	MaxMediaBytes  int64

	HTTPClient *http.Client

	// Sleep overrides every wait (backoff, polling, dry-run latency).
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		GeneralConcurrency: queue.DefaultGeneralConcurrency,
		Publish: queue.PublishConfig{
			Limit:  queue.DefaultPublishLimit,
			Window: queue.DefaultPublishWindow,
		},
		MaxRetries:       retry.DefaultMaxRetries,
		BaseDelay:        retry.DefaultBaseDelay,
		RetryAfter:       retry.DefaultRetryAfter,
		DryRunLatency:    DefaultDryRunLatency,
		CaptionMinLength: DefaultCaptionMinLength,
		CaptionAdvisory:  DefaultCaptionAdvisory,
		ChunkThreshold:   DefaultChunkThreshold,
		ChunkSize:        upload.DefaultChunkSize,
		PollInterval:     upload.DefaultPollInterval,
		MaxPolls:         upload.DefaultMaxPolls,
		MaxMediaBytes:    DefaultMaxMediaBytes,
	}
}

func (c Config) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}

func (c Config) executor(name string) *retry.Executor {
	r := retry.New(name, nil)
	if c.MaxRetries >= 0 {
		r.MaxRetries = c.MaxRetries
	}
	if c.BaseDelay > 0 {
		r.BaseDelay = c.BaseDelay
	}
	if c.RetryAfter > 0 {
		r.RetryAfter = c.RetryAfter
	}
	r.Sleep = c.Sleep
	return r
}

func (c Config) protocol(r *retry.Executor) *upload.Protocol {
	p := upload.New(r)
	if c.ChunkSize > 0 {
		p.ChunkSize = c.ChunkSize
	}
	if c.PollInterval > 0 {
		p.PollInterval = c.PollInterval
	}
	if c.MaxPolls > 0 {
		p.MaxPolls = c.MaxPolls
	}
	p.Sleep = c.Sleep
	return p
}
