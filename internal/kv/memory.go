package kv

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

type kvValue struct {
	value []byte
	// expires is the zero Time when the entry has no TTL.
	expires time.Time
}

func (v kvValue) expired() bool {
	return !v.expires.IsZero() && time.Now().After(v.expires)
}

type inMemoryKV struct {
	mu sync.Mutex
	m  map[string]kvValue
}

func makeInMemoryKV() KV {
	return &inMemoryKV{m: make(map[string]kvValue)}
}

func (kv *inMemoryKV) Has(_ context.Context, key string) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	if !ok {
		return false, nil
	}
	if v.expired() {
		delete(kv.m, key)
		return false, nil
	}
	return true, nil
}

func (kv *inMemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	if !ok {
		return nil, fmt.Errorf("key %q not found", key)
	}
	if v.expired() {
		delete(kv.m, key)
		return nil, fmt.Errorf("key %q has expired", key)
	}
	return v.value, nil
}

func (kv *inMemoryKV) Set(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = kvValue{value: value}
	return nil
}

func (kv *inMemoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.m, key)
	return nil
}

func (kv *inMemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	if !ok {
		return fmt.Errorf("key %q not found", key)
	}
	if ttl <= 0 {
		delete(kv.m, key)
		return nil
	}
	v.expires = time.Now().Add(ttl)
	kv.m[key] = v
	return nil
}

func (kv *inMemoryKV) Scan(_ context.Context, _ uint64, match string, _ int64) ([]string, uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	var keys []string
	for key, v := range kv.m {
		if v.expired() {
			delete(kv.m, key)
			continue
		}
		if match == "" {
			keys = append(keys, key)
			continue
		}
		if ok, err := path.Match(match, key); err == nil && ok {
			keys = append(keys, key)
		}
	}
	return keys, 0, nil
}

func (kv *inMemoryKV) Close() error {
	return nil
}
