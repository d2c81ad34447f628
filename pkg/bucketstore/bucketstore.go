package bucketstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoSuchBucket is when a Bucket was requested that does not exist.
// Use CreateWaitForBucket to create a bucket if it does not exist.
var ErrNoSuchBucket = errors.New("bucket does not exist, use CreateWaitForBucket instead")

// BucketStore is used for managing named limiters, such as the identify
// limit shared by every connection using the same token.
type BucketStore struct {
	BucketsMu sync.RWMutex
	Buckets   map[string]*rate.Limiter
}

// NewBucketStore creates a new Buckets map to store different limits
func NewBucketStore() *BucketStore {
	return &BucketStore{
		BucketsMu: sync.RWMutex{},
		Buckets:   make(map[string]*rate.Limiter),
	}
}

// CreateBucket will create a new bucket or overwrite an existing one. The
// bucket allows limit operations per duration.
func (bs *BucketStore) CreateBucket(name string, limit int, duration time.Duration) *rate.Limiter {
	bucket := rate.NewLimiter(rate.Every(duration/time.Duration(limit)), limit)

	bs.BucketsMu.Lock()
	bs.Buckets[name] = bucket
	bs.BucketsMu.Unlock()

	return bucket
}

// WaitForBucket will wait for a bucket to be ready.
func (bs *BucketStore) WaitForBucket(ctx context.Context, name string) error {
	bs.BucketsMu.RLock()
	bucket, exists := bs.Buckets[name]
	bs.BucketsMu.RUnlock()

	if !exists {
		return ErrNoSuchBucket
	}

	return bucket.Wait(ctx)
}

// CreateWaitForBucket will create a bucket if it does not exist and then will wait
// for it.
func (bs *BucketStore) CreateWaitForBucket(ctx context.Context, name string, limit int, duration time.Duration) error {
	bs.BucketsMu.Lock()

	bucket, exists := bs.Buckets[name]
	if !exists {
		bucket = rate.NewLimiter(rate.Every(duration/time.Duration(limit)), limit)
		bs.Buckets[name] = bucket
	}

	bs.BucketsMu.Unlock()

	return bucket.Wait(ctx)
}
