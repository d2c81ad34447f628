package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Route is the part of a REST route the registry needs to pick a bucket.
type Route interface {
	Key() string
	MajorParams() string
}

type handle int

// Registry maps routes to buckets. Buckets live in an arena and are
// addressed by stable handles, so re-keying a route never disturbs callers
// that already hold its bucket.
type Registry struct {
	Logger zerolog.Logger

	global  *GlobalThrottle
	maxWait *atomic.Duration

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	arena  []*Bucket
	keys   map[string]handle
	hashes map[string]string
}

// NewRegistry creates a registry. A maxWait of 0 lets callers wait forever.
func NewRegistry(logger zerolog.Logger, maxWait time.Duration) *Registry {
	return &Registry{
		Logger:  logger,
		global:  NewGlobalThrottle(),
		maxWait: atomic.NewDuration(maxWait),
		done:    make(chan struct{}),
		keys:    make(map[string]handle),
		hashes:  make(map[string]string),
	}
}

// Global returns the throttle shared by every bucket in the registry.
func (r *Registry) Global() *GlobalThrottle {
	return r.global
}

// SetMaxWait changes the ceiling for all buckets, including existing ones.
func (r *Registry) SetMaxWait(maxWait time.Duration) {
	r.maxWait.Store(maxWait)
}

func (r *Registry) MaxWait() time.Duration {
	return r.maxWait.Load()
}

// key returns the current bucket key of a route. r.mu must be held.
func (r *Registry) key(route Route) string {
	if hash, ok := r.hashes[route.Key()]; ok {
		return hash + ":" + route.MajorParams()
	}

	return route.Key() + ":" + route.MajorParams()
}

// lookup returns the bucket registered under key, creating it with the
// default limits. r.mu must be held.
func (r *Registry) lookup(key string) *Bucket {
	if h, ok := r.keys[key]; ok {
		return r.arena[h]
	}

	bucket := NewBucket(key, DefaultLimit, DefaultPeriod, r.global)
	bucket.maxWait = r.maxWait
	bucket.done = r.done

	r.arena = append(r.arena, bucket)
	r.keys[key] = handle(len(r.arena) - 1)

	return bucket
}

// Bucket returns the bucket currently used by route.
func (r *Registry) Bucket(route Route) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lookup(r.key(route))
}

// Update records what a response revealed about a route's bucket. A new
// bucket hash re-keys the route; queued waiters move along with it. Limits
// are only taken from responses that were not ratelimited.
func (r *Registry) Update(route Route, bucketHash string, header http.Header, status int) *Bucket {
	r.mu.Lock()

	routeKey := route.Key()
	key := r.key(route)
	bucket := r.lookup(key)

	if knownHash, ok := r.hashes[routeKey]; bucketHash != "" && (!ok || knownHash != bucketHash) {
		if ok {
			r.Logger.Info().
				Str("route", routeKey).
				Str("from", knownHash).
				Str("to", bucketHash).
				Msg("Route has changed bucket hash")
		} else {
			r.Logger.Debug().
				Str("route", routeKey).
				Str("hash", bucketHash).
				Msg("Discovered bucket hash")
		}

		r.hashes[routeKey] = bucketHash
		newKey := bucketHash + ":" + route.MajorParams()

		if h, exists := r.keys[newKey]; exists && r.arena[h] != bucket {
			canonical := r.arena[h]

			if waiters := bucket.takeQueue(); len(waiters) > 0 {
				canonical.mu.Lock()
				canonical.enqueue(waiters...)
				canonical.mu.Unlock()
			}

			bucket = canonical
		} else {
			r.keys[newKey] = r.keys[key]
		}

		delete(r.keys, key)
	}

	r.mu.Unlock()

	if status != http.StatusTooManyRequests {
		bucket.Apply(ParseLimits(header))
	}

	return bucket
}

// IsRateLimited reports whether a request on route would have to wait.
func (r *Registry) IsRateLimited(route Route) bool {
	if r.global.IsTripped() {
		return true
	}

	r.mu.Lock()
	h, ok := r.keys[r.key(route)]

	var bucket *Bucket
	if ok {
		bucket = r.arena[h]
	}
	r.mu.Unlock()

	return bucket != nil && bucket.IsLimited()
}

// Len returns the number of buckets keyed in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.keys)
}

// Done returns a channel that is closed once the registry is closed.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Close fails every waiting and future acquire with ErrRegistryClosed.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
