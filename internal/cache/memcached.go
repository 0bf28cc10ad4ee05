package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/klauspost/compress/zstd"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

const keyPrefix = "track:"

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcached keys may not contain spaces or control characters.
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
}

// maxItemSize is the default memcached item limit.
const maxItemSize = 1 << 20

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encodeTrack stores points as zstd-compressed [unix, lat, lon] rows so whole
// histories stay under the item limit.
func encodeTrack(track models.DriftTrack) ([]byte, error) {
	rows := make([][3]float64, len(track))
	for i, p := range track {
		rows[i] = [3]float64{float64(p.Time.Unix()), p.Lat, p.Lon}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decodeTrack(b []byte) (models.DriftTrack, error) {
	raw, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, err
	}
	var rows [][3]float64
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	track := make(models.DriftTrack, len(rows))
	for i, r := range rows {
		track[i] = models.DriftPoint{Time: time.Unix(int64(r[0]), 0).UTC(), Lat: r[1], Lon: r[2]}
	}
	return track, nil
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.DriftTrack, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcached get %q: %w", key, err)
	}
	track, err := decodeTrack(item.Value)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached track %q: %w", key, err)
	}
	return track, true, nil
}

// Set implements Cache.Set. Tracks that do not fit in one item are not cached.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.DriftTrack, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := encodeTrack(value)
	if err != nil {
		return fmt.Errorf("encode track %q: %w", key, err)
	}
	if len(raw) > maxItemSize {
		return fmt.Errorf("track %q is %d bytes, over the %d byte item limit", key, len(raw), maxItemSize)
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
