// Package kvstore defines the external key/value store contract spec.md
// §6 names and a Redis-backed implementation, grounded on
// original_source/arduino/lib/Storage/Storage.h's Get/Set/Destroy
// interface and adapted onto pkg/redis's existing client.
package kvstore

import "fmt"

// Store is the minimal persistence contract pkg/wifiprofile needs,
// matching Storage::get/set/destroy.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Destroy(key string) error
}

// bucket is the single Redis hash every key/value pair lives under as a
// field, mirroring the teacher's WriteString/GetString hash-per-key,
// field-per-value shape (pkg/redis/client.go) collapsed to one hash since
// the original Storage interface has no notion of a field, only a key.
const bucket = "mayako:kvstore"

// hashClient is the slice of pkg/redis.Client's surface RedisStore needs.
// Extracted as an interface so the store is testable without a live
// Redis server, matching the same approach pkg/relay.Queue/integrity.Resender
// take for their own collaborators.
type hashClient interface {
	WriteString(key, field, value string) error
	GetString(key, field string) (string, error)
	HDel(key, field string) (int64, error)
}

// RedisStore adapts pkg/redis.Client to the Store contract.
type RedisStore struct {
	client hashClient
}

// NewRedisStore wraps an already-connected Redis client.
func NewRedisStore(client hashClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get reads key's value. ok is false both when the key was never set and
// when the underlying client errors, since client.GetString collapses
// redis.Nil into a generic "not found" error with no sentinel to test
// against.
func (s *RedisStore) Get(key string) (string, bool, error) {
	val, err := s.client.GetString(bucket, key)
	if err != nil {
		return "", false, nil
	}
	return val, true, nil
}

// Set writes key's value, overwriting any existing one.
func (s *RedisStore) Set(key, value string) error {
	if err := s.client.WriteString(bucket, key, value); err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return nil
}

// Destroy removes key from the store. Deleting an absent key is not an
// error, matching Storage::destroy's boolean-success contract where a
// missing key is simply nothing to do.
func (s *RedisStore) Destroy(key string) error {
	if _, err := s.client.HDel(bucket, key); err != nil {
		return fmt.Errorf("kvstore: destroy %q: %w", key, err)
	}
	return nil
}
