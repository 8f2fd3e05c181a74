package sync

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheExpiresAndInvalidates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Set("a", Tag("mod_quiz", 1), []byte("one"))
	cache.Set("b", Tag("mod_quiz", 1), []byte("two"))
	cache.Set("c", Tag("mod_quiz", 2), []byte("three"))

	data, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "one", string(data))

	cache.Invalidate(Tag("mod_quiz", 1))
	_, ok = cache.Get("a")
	assert.False(t, ok)
	_, ok = cache.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())

	now = now.Add(time.Minute)
	_, ok = cache.Get("c")
	assert.False(t, ok, "expired")
	assert.Zero(t, cache.Len())
}

func TestCacheDisabled(t *testing.T) {
	cache := NewCache(0)
	cache.Set("a", "", []byte("x"))
	_, ok := cache.Get("a")
	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	params := url.Values{"quizid": {"3"}, "userid": {"7"}}
	assert.Equal(t, "mod_quiz_get_user_attempts?quizid=3&userid=7", CacheKey("mod_quiz_get_user_attempts", params))
	assert.Equal(t, "mod_lesson:12", Tag("mod_lesson", 12))
}
