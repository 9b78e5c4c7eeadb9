package xpost

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const maxMediaPerRequest = 10

// Validate checks a request before it is accepted.
func (r Request) Validate() error {
	var errs []error
	if !r.Priority.Valid() {
		errs = append(errs, fmt.Errorf("invalid priority %d", int(r.Priority)))
	}
	if len(r.Media) > maxMediaPerRequest {
		errs = append(errs, fmt.Errorf("at most %d media assets are allowed, got %d", maxMediaPerRequest, len(r.Media)))
	}
	for i, m := range r.Media {
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("media[%d]: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return ValidationError{Provider: "request", Reason: errors.Join(errs...).Error()}
	}
	return nil
}

// Validate checks that exactly one source is set and that it is usable.
func (m MediaAsset) Validate() error {
	hasURL := strings.TrimSpace(m.URL) != ""
	switch {
	case m.Inline() && hasURL:
		return errors.New("both inline data and url are set")
	case !m.Inline() && !hasURL:
		return errors.New("no source")
	case hasURL:
		u, err := url.Parse(m.URL)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	}
	if m.Kind != MediaImage && m.Kind != MediaVideo {
		return fmt.Errorf("unknown media kind %d", int(m.Kind))
	}
	return nil
}

// Validate checks that the destination can be keyed.
func (d Destination) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Platform) == "" {
		missing = append(missing, "platform")
	}
	if strings.TrimSpace(d.ID) == "" {
		missing = append(missing, "id")
	}
	if len(missing) > 0 {
		return ValidationError{Provider: "destination", Reason: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}
