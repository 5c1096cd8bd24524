package tiktok

import (
	"context"
	"time"

	"github.com/mnehpets/reelboard/cache"
)

type videoKey struct {
	token string
	max   int
}

type videoIDKey struct {
	token string
	id    string
}

// Cached is an API that remembers successful profile and video lookups per
// access token. Errors are never cached.
type Cached struct {
	api      API
	profiles *cache.TTL[string, *Profile]
	videos   *cache.TTL[videoKey, []Video]
	video    *cache.TTL[videoIDKey, *Video]
}

// NewCached wraps api with three tables whose entries live for ttl.
func NewCached(api API, ttl time.Duration, opts ...cache.Option) *Cached {
	opts = append([]cache.Option{cache.WithTTL(ttl)}, opts...)
	return &Cached{
		api:      api,
		profiles: cache.New[string, *Profile]("profiles", opts...),
		videos:   cache.New[videoKey, []Video]("videos", opts...),
		video:    cache.New[videoIDKey, *Video]("video", opts...),
	}
}

// Profile implements API.
func (c *Cached) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	if p, ok := c.profiles.Get(accessToken); ok {
		return p, nil
	}
	p, err := c.api.Profile(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	c.profiles.Set(accessToken, p)
	return p, nil
}

// Videos implements API.
func (c *Cached) Videos(ctx context.Context, accessToken string, maxCount int) ([]Video, error) {
	key := videoKey{token: accessToken, max: maxCount}
	if v, ok := c.videos.Get(key); ok {
		return v, nil
	}
	v, err := c.api.Videos(ctx, accessToken, maxCount)
	if err != nil {
		return nil, err
	}
	c.videos.Set(key, v)
	return v, nil
}

// Video implements API.
func (c *Cached) Video(ctx context.Context, accessToken, id string) (*Video, error) {
	key := videoIDKey{token: accessToken, id: id}
	if v, ok := c.video.Get(key); ok {
		return v, nil
	}
	v, err := c.api.Video(ctx, accessToken, id)
	if err != nil {
		return nil, err
	}
	c.video.Set(key, v)
	return v, nil
}

// Invalidate drops everything cached for accessToken.
func (c *Cached) Invalidate(accessToken string) {
	c.profiles.Delete(accessToken)
	c.videos.DeleteFunc(func(k videoKey) bool { return k.token == accessToken })
	c.video.DeleteFunc(func(k videoIDKey) bool { return k.token == accessToken })
}

// Tables returns the underlying tables for sweeping and stats.
func (c *Cached) Tables() []cache.Sweeper {
	return []cache.Sweeper{c.profiles, c.videos, c.video}
}

// Stats reports counters for every table.
func (c *Cached) Stats() []cache.Stats {
	return []cache.Stats{c.profiles.Stats(), c.videos.Stats(), c.video.Stats()}
}

var _ API = (*Cached)(nil)
