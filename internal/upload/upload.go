// Package upload drives the start/transfer/finish/poll session protocol that
// platforms require for large media.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/retry"
)

const (
	DefaultChunkSize    = 4 << 20
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 6
)

// Phase is the step an upload session is in.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseTransfer
	PhaseFinish
	PhasePolling
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseTransfer:
		return "transfer"
	case PhaseFinish:
		return "finish"
	case PhasePolling:
		return "polling"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Readiness is the processing state reported for a finished asset.
type Readiness int

const (
	Processing Readiness = iota
	Ready
	Failed
)

// Media describes the payload announced at session start.
type Media struct {
	Size     int64
	MimeType string
	Video    bool
}

// Session is what the upstream hands back at start. AssetID is set by
// platforms that allocate the asset identifier up front.
type Session struct {
	ID      string
	AssetID string
}

// Chunk is one sequential slice of the payload.
type Chunk struct {
	Index  int
	Offset int64
	Data   []byte
}

// Transport is the platform side of the protocol.
type Transport interface {
	Start(ctx context.Context, media Media) (Session, error)
	Transfer(ctx context.Context, sess Session, chunk Chunk) error
	Finish(ctx context.Context, sess Session) (string, error)
	Status(ctx context.Context, assetID string) (Readiness, error)
}

// State is the transient bookkeeping for one upload. It never leaves Upload.
type State struct {
	SessionID string
	AssetID   string
	TotalSize int64
	BytesSent int64
	Phase     Phase
}

// AbortedError is returned when a session cannot be completed.
type AbortedError struct {
	Phase Phase
	Err   error
}

func (e AbortedError) Error() string {
	return fmt.Sprintf("upload aborted during %s: %v", e.Phase, e.Err)
}

func (e AbortedError) Unwrap() error { return e.Err }

// ErrProcessingFailed is returned when the platform rejects the uploaded asset.
var ErrProcessingFailed = errors.New("media processing failed")

// Protocol holds the chunking and polling policy.
type Protocol struct {
	ChunkSize    int
	PollInterval time.Duration
	MaxPolls     int
	Retry        *retry.Executor

	// Sleep waits between polls. Nil uses retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	Log   *log.Logger
}

// New returns a Protocol with default chunking and polling.
func New(r *retry.Executor) *Protocol {
	return &Protocol{
		ChunkSize:    DefaultChunkSize,
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
		Retry:        r,
	}
}

// Upload sends data through t and returns the asset identifier.
func (p *Protocol) Upload(ctx context.Context, t Transport, data []byte, mimeType string, video bool) (string, error) {
	lg := p.Log
	if lg == nil {
		lg = logutil.Logger()
	}
	r := p.Retry
	if r == nil {
		r = retry.New("", nil)
	}
	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	st := State{TotalSize: int64(len(data)), Phase: PhaseStart}

	sess, err := retry.Do(ctx, r, func(ctx context.Context) (Session, error) {
		return t.Start(ctx, Media{Size: st.TotalSize, MimeType: mimeType, Video: video})
	})
	if err != nil {
		return "", AbortedError{Phase: PhaseStart, Err: err}
	}
	st.SessionID = sess.ID
	st.AssetID = sess.AssetID
	lg.Debug("upload session started", "session", st.SessionID, "bytes", st.TotalSize)

	st.Phase = PhaseTransfer
	for idx := 0; st.BytesSent < st.TotalSize; idx++ {
		end := st.BytesSent + int64(chunkSize)
		if end > st.TotalSize {
			end = st.TotalSize
		}
		chunk := Chunk{Index: idx, Offset: st.BytesSent, Data: data[st.BytesSent:end]}
		if err := retry.Run(ctx, r, func(ctx context.Context) error {
			return t.Transfer(ctx, sess, chunk)
		}); err != nil {
			return "", AbortedError{Phase: PhaseTransfer, Err: fmt.Errorf("chunk %d at offset %d: %w", idx, chunk.Offset, err)}
		}
		st.BytesSent = end
		lg.Debug("chunk transferred", "session", st.SessionID, "index", idx, "sent", st.BytesSent, "total", st.TotalSize)
	}

	st.Phase = PhaseFinish
	assetID, err := retry.Do(ctx, r, func(ctx context.Context) (string, error) {
		return t.Finish(ctx, sess)
	})
	if err != nil {
		return "", AbortedError{Phase: PhaseFinish, Err: err}
	}
	if assetID == "" {
		assetID = st.AssetID
	}
	if assetID == "" {
		return "", AbortedError{Phase: PhaseFinish, Err: errors.New("no asset id returned")}
	}
	st.AssetID = assetID

	st.Phase = PhasePolling
	return p.poll(ctx, t, r, lg, st.AssetID)
}

func (p *Protocol) poll(ctx context.Context, t Transport, r *retry.Executor, lg *log.Logger, assetID string) (string, error) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxPolls := p.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}

	for attempt := 1; attempt <= maxPolls; attempt++ {
		if err := p.sleep(ctx, interval*time.Duration(attempt)); err != nil {
			return "", err
		}
		state, err := retry.Do(ctx, r, func(ctx context.Context) (Readiness, error) {
			return t.Status(ctx, assetID)
		})
		if err != nil {
			lg.Warn("asset status poll failed", "asset", assetID, "attempt", attempt, "err", err)
			continue
		}
		switch state {
		case Ready:
			lg.Debug("asset ready", "asset", assetID, "polls", attempt)
			return assetID, nil
		case Failed:
			return "", fmt.Errorf("asset %s: %w", assetID, ErrProcessingFailed)
		}
	}

	lg.Warn("asset not ready after polling, continuing anyway", "asset", assetID, "polls", maxPolls)
	return assetID, nil
}

func (p *Protocol) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}
