package twitter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/resources"

	"github.com/blacktop/xpostd/internal/retry"
	"github.com/blacktop/xpostd/internal/xpost"
)

// Classify retries what xpost.Classify retries plus any failure that never
// produced an X API response.
func (c *Client) Classify(err error) retry.Decision {
	d := xpost.Classify(err)
	if d.Class != retry.Permanent {
		return d
	}
	if errors.Is(err, context.Canceled) || isClassified(err) {
		return d
	}
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) {
		return d
	}
	return retry.Decision{Class: retry.Transient}
}

func isClassified(err error) bool {
	var (
		pe xpost.PermanentError
		ue xpost.UnsupportedError
		ve xpost.ValidationError
		me xpost.MissingEnvError
	)
	return errors.As(err, &pe) || errors.As(err, &ue) || errors.As(err, &ve) || errors.As(err, &me)
}

// wrapError maps gotwi failures onto the xpost taxonomy.
func wrapError(op string, err error) error {
	var gwErr *gotwi.GotwiError
	if !errors.As(err, &gwErr) || gwErr == nil {
		if xpost.IsTransportError(err) {
			return xpost.TransientError{Provider: providerName, Err: fmt.Errorf("%s: %w", op, err)}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	wrapped := fmt.Errorf("%s: %s", op, summarizeGotwiError(gwErr))
	switch strings.ToLower(strings.TrimSpace(gwErr.Title)) {
	case "too many requests":
		return xpost.RateLimitedError{Provider: providerName, Raw: gwErr}
	case "internal server error":
		return xpost.TransientError{Provider: providerName, Status: 500, Err: wrapped, Raw: gwErr}
	case "bad gateway":
		return xpost.TransientError{Provider: providerName, Status: 502, Err: wrapped, Raw: gwErr}
	case "service unavailable":
		return xpost.TransientError{Provider: providerName, Status: 503, Err: wrapped, Raw: gwErr}
	case "gateway timeout":
		return xpost.TransientError{Provider: providerName, Status: 504, Err: wrapped, Raw: gwErr}
	}
	return xpost.PermanentError{Provider: providerName, Code: gwErr.Title, Err: wrapped, Raw: gwErr}
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprintf("%s", *pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return xpost.PermanentError{Provider: providerName, Code: "partial_error", Err: errors.New(strings.Join(msgs, "; ")), Raw: partials}
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	if err == nil {
		return "unknown X API error"
	}

	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		if msg := err.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "X API request failed")
	}

	return strings.Join(parts, "; ")
}
