package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectChallenge(t *testing.T) {
	ctx := context.Background()
	markers := DefaultChallengeMarkers()

	t.Run("clean page", func(t *testing.T) {
		assert.False(t, DetectChallenge(ctx, newFakeResource(), markers))
	})

	t.Run("troubleshooting link marker", func(t *testing.T) {
		res := newFakeResource()
		res.simulateChallenge()
		assert.True(t, DetectChallenge(ctx, res, markers))
	})

	t.Run("protective message marker", func(t *testing.T) {
		res := newFakeResource()
		res.texts["div[class*=article]"] = "Help Us Protect Glassdoor by verifying you are a person."
		assert.True(t, DetectChallenge(ctx, res, markers))
	})

	t.Run("unrelated link and text", func(t *testing.T) {
		res := newFakeResource()
		res.attrs["a#troubleshooting"] = map[string]string{"href": "https://example.com/help"}
		res.texts["div[class*=article]"] = "Welcome back"
		assert.False(t, DetectChallenge(ctx, res, markers))
	})

	t.Run("nil resource is fail safe", func(t *testing.T) {
		assert.False(t, DetectChallenge(ctx, nil, markers))
	})

	t.Run("closed resource is fail safe", func(t *testing.T) {
		res := newFakeResource()
		res.simulateChallenge()
		res.closed = true
		assert.False(t, DetectChallenge(ctx, res, markers))
	})
}

func TestResourceClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy page", func(t *testing.T) {
		assert.False(t, resourceClosed(ctx, newFakeResource()))
	})

	t.Run("nil reference", func(t *testing.T) {
		assert.True(t, resourceClosed(ctx, nil))
	})

	t.Run("page reports closed", func(t *testing.T) {
		res := newFakeResource()
		res.closed = true
		assert.True(t, resourceClosed(ctx, res))
	})

	t.Run("property read fails", func(t *testing.T) {
		res := newFakeResource()
		res.urlErr = errors.New("connection refused")
		assert.True(t, resourceClosed(ctx, res))
	})
}
