package cache

import (
	"context"
	"testing"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/testhelpers"
)

func benchTrack() models.DriftTrack {
	return testhelpers.StraightTrack(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 80, -150, 45, 0.5, time.Hour, 24)
}

// BenchmarkInMemoryCache_Get_Hit benchmarks in-memory Get on cache hit.
func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	cache := NewInMemoryCache(nil)
	ctx := context.Background()
	_ = cache.Set(ctx, "300234065", benchTrack(), 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = cache.Get(ctx, "300234065")
	}
}

// BenchmarkInMemoryCache_Concurrent benchmarks concurrent cache reads.
func BenchmarkInMemoryCache_Concurrent(b *testing.B) {
	cache := NewInMemoryCache(nil)
	ctx := context.Background()
	_ = cache.Set(ctx, "300234065", benchTrack(), 5*time.Minute)

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = cache.Get(ctx, "300234065")
		}
	})
}

// BenchmarkMemcachedCache_Get_Hit benchmarks Memcached Get on cache hit.
// Requires: Memcached running (skip if unavailable).
func BenchmarkMemcachedCache_Get_Hit(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping Memcached benchmark in short mode")
	}

	cache, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		b.Skipf("Memcached not available: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "300234065", benchTrack(), 5*time.Minute); err != nil {
		b.Skipf("Memcached not available: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = cache.Get(ctx, "300234065")
	}
}
