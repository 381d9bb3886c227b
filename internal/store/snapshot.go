package store

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Snapshot keys. The heading is stored as the raw bits of a float32 so
// the round trip through the integer store is exact.
const (
	keySnapshotVersion = "enc_snapshot_v"
	keyTicks           = "enc_ticks_adj"
	keyHeading         = "heading"
)

// snapshotSchema is bumped when the meaning of the persisted fields
// changes; old snapshots are then ignored and the tracker re-homes.
const snapshotSchema = 1

// ErrSchemaMismatch is returned by Load when a snapshot exists but was
// written by a firmware with a different schema.
var ErrSchemaMismatch = errors.New("store: snapshot schema mismatch")

// Snapshot persists the encoder position and last commanded heading,
// writing at most once per second so a busy correction loop cannot
// wear the backing flash.
type Snapshot struct {
	kv        KV
	now       func() time.Time
	lastWrite time.Time
}

// NewSnapshot wraps kv. A nil now selects time.Now; tests inject their
// own clock.
func NewSnapshot(kv KV, now func() time.Time) *Snapshot {
	if now == nil {
		now = time.Now
	}
	return &Snapshot{kv: kv, now: now}
}

// Load returns the persisted position. ok is false when nothing was
// persisted yet; a schema mismatch additionally reports
// ErrSchemaMismatch so the caller can log why the position was
// discarded.
func (s *Snapshot) Load() (ticks int32, heading float32, ok bool, err error) {
	v, err := s.kv.GetU32(keySnapshotVersion)
	if errors.Is(err, ErrNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	if v != snapshotSchema {
		return 0, 0, false, fmt.Errorf("%w: have %d, want %d", ErrSchemaMismatch, v, snapshotSchema)
	}
	t, err := s.kv.GetI32(keyTicks)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	hbits, err := s.kv.GetU32(keyHeading)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return t, math.Float32frombits(hbits), true, nil
}

// Persist writes the position unless a write happened less than a
// second ago.
func (s *Snapshot) Persist(ticks int32, heading float32) error {
	now := s.now()
	if !s.lastWrite.IsZero() && now.Sub(s.lastWrite) < time.Second {
		return nil
	}
	return s.write(ticks, heading, now)
}

// Flush writes unconditionally. Movement paths call it when a segment
// finishes so the final position always lands on disk.
func (s *Snapshot) Flush(ticks int32, heading float32) error {
	return s.write(ticks, heading, s.now())
}

func (s *Snapshot) write(ticks int32, heading float32, now time.Time) error {
	if err := s.kv.SetI32(keyTicks, ticks); err != nil {
		return err
	}
	if err := s.kv.SetU32(keyHeading, math.Float32bits(heading)); err != nil {
		return err
	}
	// The version is written last so an interrupted snapshot is not
	// trusted on the next boot.
	if err := s.kv.SetU32(keySnapshotVersion, snapshotSchema); err != nil {
		return err
	}
	s.lastWrite = now
	return nil
}
