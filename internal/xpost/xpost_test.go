package xpost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/blacktop/xpostd/internal/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class retry.Class
		after time.Duration
	}{
		{"rate limited", RateLimitedError{Provider: "x", After: 30 * time.Second}, retry.RateLimited, 30 * time.Second},
		{"wrapped rate limited", fmt.Errorf("post: %w", RateLimitedError{Provider: "x"}), retry.RateLimited, 0},
		{"transient", TransientError{Provider: "fb", Status: 503, Err: errors.New("unavailable")}, retry.Transient, 0},
		{"permanent", PermanentError{Provider: "fb", Code: "100", Err: errors.New("bad param")}, retry.Permanent, 0},
		{"unsupported", UnsupportedError{Provider: "twitter", Op: "update"}, retry.Permanent, 0},
		{"canceled", context.Canceled, retry.Permanent, 0},
		{"transport", &net.OpError{Op: "dial", Err: errors.New("refused")}, retry.Transient, 0},
		{"unknown", errors.New("boom"), retry.Permanent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(tt.err)
			if d.Class != tt.class {
				t.Errorf("expected %s, got %s", tt.class, d.Class)
			}
			if d.After != tt.after {
				t.Errorf("expected after %s, got %s", tt.after, d.After)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("upstream")
	if _, ok := ClassifyStatus("fb", 429, time.Second, base, nil).(RateLimitedError); !ok {
		t.Error("429 should be rate limited")
	}
	if _, ok := ClassifyStatus("fb", 502, 0, base, nil).(TransientError); !ok {
		t.Error("502 should be transient")
	}
	err := ClassifyStatus("fb", 400, 0, base, nil)
	if _, ok := err.(PermanentError); !ok {
		t.Error("400 should be permanent")
	}
	if !errors.Is(err, base) {
		t.Error("permanent error should unwrap to the upstream error")
	}
}

func TestRequestValidate(t *testing.T) {
	ok := Request{
		Priority: PriorityHigh,
		Media: []MediaAsset{
			{URL: "https://example.com/a.jpg", Kind: MediaImage},
			{Data: []byte{1, 2, 3}, Kind: MediaVideo},
		},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []Request{
		{Priority: Priority(9)},
		{Media: []MediaAsset{{}}},
		{Media: []MediaAsset{{URL: "ftp://example.com/a.jpg"}}},
		{Media: []MediaAsset{{URL: "https://example.com/a.jpg", Data: []byte{1}}}},
	}
	for i, r := range bad {
		var ve ValidationError
		if err := r.Validate(); !errors.As(err, &ve) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{"": PriorityNormal, "LOW": PriorityLow, "high": PriorityHigh, "1": PriorityNormal} {
		got, err := ParsePriority(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("%q: expected %s, got %s", in, want, got)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestOptionsTargets(t *testing.T) {
	if got := (Options{}).Targets(); len(got) != 0 {
		t.Errorf("expected no targets, got %v", got)
	}
	got := Options{PublishToFeed: true, PublishToStory: true}.Targets()
	if len(got) != 2 || got[0] != TargetFeed || got[1] != TargetStory {
		t.Errorf("expected [feed story], got %v", got)
	}
	if DefaultOptions().Targets()[0] != TargetFeed {
		t.Error("default options should publish to feed")
	}
}

func TestDestinationKey(t *testing.T) {
	d := Destination{Platform: "FB", ID: "123"}
	if d.Key() != "fb:123" {
		t.Errorf("unexpected key %q", d.Key())
	}
	if err := (Destination{Platform: "fb"}).Validate(); err == nil {
		t.Error("expected error for missing id")
	}
}
