package session

import (
	"context"
	"strings"
)

// Resource is the browser surface a session exclusively owns. Only the gate
// calls into it during a run; the lifecycle layer calls Close exactly once on
// the cleanup path.
type Resource interface {
	// URL returns the current page location. Used as a trivial
	// no-side-effect probe: a failure means the window is gone.
	URL(ctx context.Context) (string, error)
	// Closed reports whether the underlying page says it is closed.
	Closed(ctx context.Context) bool
	// Attribute reads one attribute from the first element matching the
	// selector. ok is false when no such element exists.
	Attribute(ctx context.Context, selector, name string) (value string, ok bool, err error)
	// InnerText returns the visible text of the first element matching the
	// selector, or empty when absent.
	InnerText(ctx context.Context, selector string) (string, error)
	// Close releases the browser resource.
	Close(ctx context.Context) error
}

// ChallengeMarkers identifies an anti-automation interstitial in the page
// DOM. Both probes are fail-safe: any read error counts as "no challenge".
type ChallengeMarkers struct {
	// LinkSelector/LinkAttribute/LinkFragment: a challenge page carries a
	// well-known troubleshooting link whose attribute contains the fragment.
	LinkSelector  string
	LinkAttribute string
	LinkFragment  string
	// MessageSelector/MessageFragment: some sites render a protective
	// message inside an article container instead.
	MessageSelector string
	MessageFragment string
}

// DefaultChallengeMarkers returns the markers for the interstitials observed
// in production.
func DefaultChallengeMarkers() ChallengeMarkers {
	return ChallengeMarkers{
		LinkSelector:    "a#troubleshooting",
		LinkAttribute:   "href",
		LinkFragment:    "Troubleshooting-Cloudflare-Errors",
		MessageSelector: "div[class*=article]",
		MessageFragment: "Help Us Protect Glassdoor",
	}
}

// DetectChallenge inspects the current page for challenge markers. Pure
// function of page state; the single-fire notification flag lives in the
// gate, not here.
func DetectChallenge(ctx context.Context, r Resource, m ChallengeMarkers) bool {
	if r == nil || r.Closed(ctx) {
		return false
	}

	if m.LinkSelector != "" {
		href, ok, err := r.Attribute(ctx, m.LinkSelector, m.LinkAttribute)
		if err == nil && ok && strings.Contains(href, m.LinkFragment) {
			return true
		}
	}

	if m.MessageSelector != "" {
		text, err := r.InnerText(ctx, m.MessageSelector)
		if err == nil && strings.Contains(text, m.MessageFragment) {
			return true
		}
	}

	return false
}

// resourceClosed is the manual-closure probe: nil reference, the page
// reporting itself closed, or a failing trivial property read all mean a
// human closed the window.
func resourceClosed(ctx context.Context, r Resource) bool {
	if r == nil {
		return true
	}
	if r.Closed(ctx) {
		return true
	}
	if _, err := r.URL(ctx); err != nil {
		return true
	}
	return false
}
