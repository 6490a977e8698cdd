package urlcache_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"minio-backend/core/urlcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestKey(t *testing.T) {
	c := urlcache.New("presigned_url:", time.Hour)

	k := c.Key("docs", "a.txt", "etag1")
	assert.True(t, strings.HasPrefix(k, "presigned_url:"))
	assert.Len(t, k, len("presigned_url:")+64)
	assert.Equal(t, k, c.Key("docs", "a.txt", "etag1"))
	assert.NotEqual(t, k, c.Key("docs", "a.txt", "etag2"))
	// The separator keeps ("ab","c") and ("a","bc") apart.
	assert.NotEqual(t, c.Key("ab", "c", ""), c.Key("a", "bc", ""))
}

func TestGetSet(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := urlcache.New("p:", time.Minute, urlcache.WithClock(clk.Now))

	_, ok := c.Get("docs", "a.txt", "e1")
	assert.False(t, ok)

	c.Set("docs", "a.txt", "e1", "http://signed/1")
	url, ok := c.Get("docs", "a.txt", "e1")
	require.True(t, ok)
	assert.Equal(t, "http://signed/1", url)

	t.Run("DifferentETagMisses", func(t *testing.T) {
		_, ok := c.Get("docs", "a.txt", "e2")
		assert.False(t, ok)
	})

	t.Run("Expires", func(t *testing.T) {
		clk.Advance(time.Minute)
		_, ok := c.Get("docs", "a.txt", "e1")
		assert.False(t, ok)
		assert.Zero(t, c.Len())
	})
}

func TestZeroTTLStoresNothing(t *testing.T) {
	c := urlcache.New("p:", 0)
	c.Set("docs", "a.txt", "e1", "http://signed")
	assert.Zero(t, c.Len())
}

func TestSetPrunesExpiredEntries(t *testing.T) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := urlcache.New("p:", time.Minute, urlcache.WithClock(clk.Now))
	for i := 0; i < 1024; i++ {
		c.Set("docs", fmt.Sprintf("old-%d.txt", i), "e1", "http://old")
	}
	assert.Equal(t, 1024, c.Len())

	clk.Advance(time.Minute)
	c.Set("docs", "new.txt", "e1", "http://new")
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("docs", "new.txt", "e1")
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := urlcache.New("p:", time.Hour)
	c.Set("docs", "a.txt", "e1", "http://signed")
	c.Invalidate("docs", "a.txt", "e1")
	_, ok := c.Get("docs", "a.txt", "e1")
	assert.False(t, ok)
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()

	t.Run("SignsOnce", func(t *testing.T) {
		c := urlcache.New("p:", time.Hour)
		var calls int32
		sign := func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "http://signed", nil
		}

		for i := 0; i < 3; i++ {
			url, err := c.GetOrCompute(ctx, "docs", "a.txt", "e1", false, sign)
			require.NoError(t, err)
			assert.Equal(t, "http://signed", url)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("ConcurrentMissesShareOneCall", func(t *testing.T) {
		c := urlcache.New("p:", time.Hour)
		var calls int32
		release := make(chan struct{})
		sign := func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return "http://signed", nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				url, err := c.GetOrCompute(ctx, "docs", "a.txt", "e1", false, sign)
				assert.NoError(t, err)
				assert.Equal(t, "http://signed", url)
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
	})

	t.Run("PublicBypasses", func(t *testing.T) {
		c := urlcache.New("p:", time.Hour)
		var calls int32
		compute := func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "http://public", nil
		}
		for i := 0; i < 2; i++ {
			_, err := c.GetOrCompute(ctx, "docs", "a.txt", "e1", true, compute)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
		assert.Zero(t, c.Len())
	})

	t.Run("NilCacheIsDisabled", func(t *testing.T) {
		var c *urlcache.Cache
		url, err := c.GetOrCompute(ctx, "docs", "a.txt", "e1", false, func(context.Context) (string, error) {
			return "http://signed", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "http://signed", url)
	})

	t.Run("ErrorIsNotCached", func(t *testing.T) {
		c := urlcache.New("p:", time.Hour)
		boom := errors.New("boom")
		_, err := c.GetOrCompute(ctx, "docs", "a.txt", "e1", false, func(context.Context) (string, error) {
			return "", boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, c.Len())
	})

	t.Run("OutlivesCancelledCaller", func(t *testing.T) {
		c := urlcache.New("p:", time.Hour, urlcache.WithFlightTimeout(time.Second))
		started := make(chan struct{})
		release := make(chan struct{})
		var hadDeadline atomic.Bool
		sign := func(ctx context.Context) (string, error) {
			_, ok := ctx.Deadline()
			hadDeadline.Store(ok)
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "http://signed", nil
		}

		first, cancel := context.WithCancel(ctx)
		firstDone := make(chan error, 1)
		go func() {
			_, err := c.GetOrCompute(first, "docs", "a.txt", "e1", false, sign)
			firstDone <- err
		}()
		<-started

		secondDone := make(chan string, 1)
		go func() {
			url, err := c.GetOrCompute(ctx, "docs", "a.txt", "e1", false, sign)
			assert.NoError(t, err)
			secondDone <- url
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		close(release)

		assert.Equal(t, "http://signed", <-secondDone)
		assert.NoError(t, <-firstDone)
		assert.True(t, hadDeadline.Load())
		assert.Equal(t, 1, c.Len())
	})
}
