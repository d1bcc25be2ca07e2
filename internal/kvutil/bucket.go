// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zeebo/xxh3"
)

// LeaseBucketConfig builds the KV configuration used as a lease store.
//
// The bucket keeps one revision per key and expires entries after ttl. Limit
// markers make TTL expiry visible to watchers as a delete, which is how a
// follower learns that a crashed leader's key is gone.
//
// Parameters:
//   - bucket: Bucket name
//   - ttl: Lease TTL; entries not renewed within ttl are removed
//   - replicas: Stream replica count (values < 1 are treated as 1)
//
// Returns:
//   - jetstream.KeyValueConfig: Configuration for EnsureKVBucketWithRetry
func LeaseBucketConfig(bucket string, ttl time.Duration, replicas int) jetstream.KeyValueConfig {
	if replicas < 1 {
		replicas = 1
	}

	return jetstream.KeyValueConfig{
		Bucket:         bucket,
		Description:    "leasing election bucket",
		History:        1,
		TTL:            ttl,
		LimitMarkerTTL: ttl,
		Replicas:       replicas,
	}
}

// EnsureKVBucketWithRetry creates or opens a KV bucket with retry logic.
//
// This function handles race conditions when multiple replicas try to create
// the same bucket concurrently. It will retry with exponential backoff if
// the creation fails due to transient errors.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (default: 3)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Any error that occurred after all retries
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error

	for attempt := range maxRetries {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, config.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		// Exponential backoff: 10ms, 20ms, 40ms...
		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

// IsValidKey reports whether key can be used verbatim as a NATS KV key.
func IsValidKey(key string) bool {
	if key == "" || key[0] == '.' || key[len(key)-1] == '.' {
		return false
	}

	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '/', c == '_', c == '=', c == '.':
		default:
			return false
		}
	}

	return true
}

// EncodeKey maps an arbitrary election key onto a valid NATS KV key.
//
// Valid keys are returned unchanged. Anything else is replaced by "h." followed
// by the hex xxh3 hash of the key, so every replica derives the same KV key.
func EncodeKey(key string) string {
	if IsValidKey(key) {
		return key
	}

	return "h." + strconv.FormatUint(xxh3.HashString(key), 16)
}
