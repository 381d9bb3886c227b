package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// countingKV is an in-memory KV counting write operations.
type countingKV struct {
	ints map[string]int64
	strs map[string]string
	sets int
}

func newCountingKV() *countingKV {
	return &countingKV{ints: make(map[string]int64), strs: make(map[string]string)}
}

func (c *countingKV) get(key string) (int64, error) {
	v, ok := c.ints[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (c *countingKV) set(key string, v int64) error {
	c.ints[key] = v
	c.sets++
	return nil
}

func (c *countingKV) GetI32(key string) (int32, error) {
	v, err := c.get(key)
	return int32(v), err
}
func (c *countingKV) SetI32(key string, v int32) error { return c.set(key, int64(v)) }
func (c *countingKV) GetU32(key string) (uint32, error) {
	v, err := c.get(key)
	return uint32(v), err
}
func (c *countingKV) SetU32(key string, v uint32) error { return c.set(key, int64(v)) }
func (c *countingKV) GetU8(key string) (uint8, error) {
	v, err := c.get(key)
	return uint8(v), err
}
func (c *countingKV) SetU8(key string, v uint8) error { return c.set(key, int64(v)) }
func (c *countingKV) GetStr(key string) (string, error) {
	v, ok := c.strs[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}
func (c *countingKV) SetStr(key string, v string) error {
	c.strs[key] = v
	c.sets++
	return nil
}

func TestSnapshot_LoadEmpty(t *testing.T) {
	s := NewSnapshot(newCountingKV(), nil)
	_, _, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load reported a snapshot on an empty store")
	}
}

func TestSnapshot_PersistAndLoad(t *testing.T) {
	s := NewSnapshot(newCountingKV(), nil)
	if err := s.Persist(-4838, 75.25); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	ticks, heading, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no snapshot after Persist")
	}
	if ticks != -4838 {
		t.Errorf("ticks = %d, want -4838", ticks)
	}
	if heading != 75.25 {
		t.Errorf("heading = %v, want 75.25", heading)
	}
}

func TestSnapshot_RateLimited(t *testing.T) {
	kv := newCountingKV()
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(5 * time.Millisecond)
		return now
	}
	s := NewSnapshot(kv, clock)

	// A tight correction loop persisting every few milliseconds must
	// come out to a single write.
	for i := int32(0); i < 100; i++ {
		if err := s.Persist(i, float32(i)); err != nil {
			t.Fatalf("Persist %d: %v", i, err)
		}
	}
	if kv.sets != 3 {
		t.Errorf("100 rapid persists issued %d writes, want 3 (one snapshot)", kv.sets)
	}

	// After a second the next persist goes through.
	now = now.Add(time.Second)
	if err := s.Persist(200, 200); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if kv.sets != 6 {
		t.Errorf("persist after 1s issued %d total writes, want 6", kv.sets)
	}
}

func TestSnapshot_FlushBypassesRateLimit(t *testing.T) {
	kv := newCountingKV()
	now := time.Unix(0, 0)
	s := NewSnapshot(kv, func() time.Time { return now })

	if err := s.Persist(1, 1); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := s.Flush(2, 2); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if kv.sets != 6 {
		t.Errorf("Persist+Flush issued %d writes, want 6", kv.sets)
	}

	ticks, _, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if ticks != 2 {
		t.Errorf("ticks = %d, want the flushed value 2", ticks)
	}
}

func TestSnapshot_SchemaMismatch(t *testing.T) {
	kv := newCountingKV()
	kv.ints[keySnapshotVersion] = 2
	kv.ints[keyTicks] = 100
	kv.ints[keyHeading] = 0

	s := NewSnapshot(kv, nil)
	_, _, ok, err := s.Load()
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Load error = %v, want ErrSchemaMismatch", err)
	}
	if ok {
		t.Error("Load trusted a snapshot with the wrong schema")
	}
}

func TestSnapshot_PartialSnapshotIgnored(t *testing.T) {
	kv := newCountingKV()
	kv.ints[keySnapshotVersion] = snapshotSchema
	// Ticks and heading never landed.

	s := NewSnapshot(kv, nil)
	_, _, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load trusted a snapshot missing its fields")
	}
}
