package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUploadLimiterAllowsBurst(t *testing.T) {
	l := NewUploadLimiter(10, 3)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("user-a")
		assert.True(t, ok, "burst request %d should pass", i)
	}

	ok, retryAfter := l.Allow("user-a")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestUploadLimiterIsPerUser(t *testing.T) {
	l := NewUploadLimiter(10, 1)

	ok, _ := l.Allow("user-a")
	assert.True(t, ok)

	ok, _ = l.Allow("user-a")
	assert.False(t, ok)

	// A different user has their own bucket.
	ok, _ = l.Allow("user-b")
	assert.True(t, ok)
}
