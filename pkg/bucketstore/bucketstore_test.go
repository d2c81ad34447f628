package bucketstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBucketStore(t *testing.T) {
	bs := NewBucketStore()

	if err := bs.WaitForBucket(context.Background(), "identify"); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}

	if err := bs.CreateWaitForBucket(context.Background(), "identify", 1, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := bs.WaitForBucket(ctx, "identify"); err == nil {
		t.Fatal("expected the second identify to wait")
	}

	bs.CreateBucket("identify", 1, time.Hour)

	if err := bs.WaitForBucket(context.Background(), "identify"); err != nil {
		t.Fatalf("expected a fresh bucket, got %v", err)
	}
}
