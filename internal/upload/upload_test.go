package upload

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/retry"
)

var (
	errFlaky = errors.New("flaky")
	errFatal = errors.New("fatal")
)

type fakeTransport struct {
	startErr    error
	finishErr   error
	failChunk   int
	failTimes   int
	statuses    []Readiness
	transferred []int64
	sizes       []int
	attempts    map[int]int
	polls       int
}

func (f *fakeTransport) Start(ctx context.Context, m Media) (Session, error) {
	if f.startErr != nil {
		return Session{}, f.startErr
	}
	return Session{ID: "sess-1", AssetID: "asset-1"}, nil
}

func (f *fakeTransport) Transfer(ctx context.Context, s Session, c Chunk) error {
	if f.attempts == nil {
		f.attempts = map[int]int{}
	}
	f.attempts[c.Index]++
	if c.Index == f.failChunk && f.attempts[c.Index] <= f.failTimes {
		return errFlaky
	}
	f.transferred = append(f.transferred, c.Offset)
	f.sizes = append(f.sizes, len(c.Data))
	return nil
}

func (f *fakeTransport) Finish(ctx context.Context, s Session) (string, error) {
	if f.finishErr != nil {
		return "", f.finishErr
	}
	return s.AssetID, nil
}

func (f *fakeTransport) Status(ctx context.Context, id string) (Readiness, error) {
	f.polls++
	if len(f.statuses) == 0 {
		return Processing, nil
	}
	s := f.statuses[0]
	f.statuses = f.statuses[1:]
	return s, nil
}

func newTestProtocol(waits *[]time.Duration) *Protocol {
	logutil.SetOutput(io.Discard)
	r := retry.New("test", func(err error) retry.Decision {
		if errors.Is(err, errFlaky) {
			return retry.Decision{Class: retry.Transient}
		}
		return retry.Decision{Class: retry.Permanent}
	})
	r.Sleep = func(context.Context, time.Duration) error { return nil }
	p := New(r)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
	return p
}

func TestUploadChunkOffsets(t *testing.T) {
	ft := &fakeTransport{failChunk: -1, statuses: []Readiness{Ready}}
	p := newTestProtocol(nil)

	id, err := p.Upload(context.Background(), ft, make([]byte, 10<<20), "video/mp4", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "asset-1" {
		t.Errorf("expected asset-1, got %s", id)
	}
	want := []int64{0, 4 << 20, 8 << 20}
	if len(ft.transferred) != len(want) {
		t.Fatalf("expected offsets %v, got %v", want, ft.transferred)
	}
	for i := range want {
		if ft.transferred[i] != want[i] {
			t.Errorf("chunk %d: expected offset %d, got %d", i, want[i], ft.transferred[i])
		}
	}
	if ft.sizes[2] != 2<<20 {
		t.Errorf("expected last chunk of 2MiB, got %d", ft.sizes[2])
	}
}

func TestUploadRetriesFailedChunk(t *testing.T) {
	ft := &fakeTransport{failChunk: 1, failTimes: 1, statuses: []Readiness{Ready}}
	p := newTestProtocol(nil)

	if _, err := p.Upload(context.Background(), ft, make([]byte, 10<<20), "video/mp4", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{0, 4 << 20, 8 << 20}
	if len(ft.transferred) != len(want) {
		t.Fatalf("expected offsets %v, got %v", want, ft.transferred)
	}
	for i := range want {
		if ft.transferred[i] != want[i] {
			t.Errorf("chunk %d: expected offset %d, got %d", i, want[i], ft.transferred[i])
		}
	}
	if ft.attempts[1] != 2 {
		t.Errorf("expected chunk 1 to be attempted twice, got %d", ft.attempts[1])
	}
}

func TestUploadAbortsOnStartFailure(t *testing.T) {
	ft := &fakeTransport{startErr: errFatal}
	p := newTestProtocol(nil)

	id, err := p.Upload(context.Background(), ft, make([]byte, 10), "video/mp4", true)
	var ae AbortedError
	if !errors.As(err, &ae) || ae.Phase != PhaseStart {
		t.Fatalf("expected start abort, got %v", err)
	}
	if !errors.Is(err, errFatal) {
		t.Error("abort should wrap the upstream error")
	}
	if id != "" {
		t.Errorf("expected no asset id, got %q", id)
	}
	if len(ft.transferred) != 0 {
		t.Error("no chunks should be sent after a failed start")
	}
}

func TestUploadAbortsOnFinishFailure(t *testing.T) {
	ft := &fakeTransport{failChunk: -1, finishErr: errFatal}
	p := newTestProtocol(nil)

	id, err := p.Upload(context.Background(), ft, make([]byte, 10), "video/mp4", true)
	var ae AbortedError
	if !errors.As(err, &ae) || ae.Phase != PhaseFinish {
		t.Fatalf("expected finish abort, got %v", err)
	}
	if id != "" {
		t.Errorf("expected no asset id, got %q", id)
	}
}

func TestUploadPollBackoffAndSoftFailure(t *testing.T) {
	var waits []time.Duration
	ft := &fakeTransport{failChunk: -1}
	p := newTestProtocol(&waits)

	id, err := p.Upload(context.Background(), ft, make([]byte, 10), "video/mp4", true)
	if err != nil {
		t.Fatalf("poll exhaustion should not fail the upload: %v", err)
	}
	if id != "asset-1" {
		t.Errorf("expected asset-1, got %s", id)
	}
	if ft.polls != DefaultMaxPolls {
		t.Errorf("expected %d polls, got %d", DefaultMaxPolls, ft.polls)
	}
	for i, w := range waits {
		if want := DefaultPollInterval * time.Duration(i+1); w != want {
			t.Errorf("poll %d: expected wait %s, got %s", i+1, want, w)
		}
	}
}

func TestUploadProcessingFailed(t *testing.T) {
	ft := &fakeTransport{failChunk: -1, statuses: []Readiness{Processing, Failed}}
	p := newTestProtocol(nil)

	_, err := p.Upload(context.Background(), ft, make([]byte, 10), "video/mp4", true)
	if !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("expected processing failure, got %v", err)
	}
	if ft.polls != 2 {
		t.Errorf("expected 2 polls, got %d", ft.polls)
	}
}
