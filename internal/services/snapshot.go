/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "sync"
    "sync/atomic"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/domain"
)

// SnapshotStore holds the current dashboard snapshot. Readers always get
// a complete snapshot via an atomic pointer swap; refreshes are
// single-flight with a cooldown between attempts.
type SnapshotStore struct {
    cur atomic.Pointer[domain.Snapshot]

    mu          sync.Mutex
    refreshing  bool
    lastAttempt time.Time

    ttl             time.Duration
    stalenessWindow time.Duration
    cooldown        time.Duration
}

func NewSnapshotStore(ttl, stalenessWindow, cooldown time.Duration) *SnapshotStore {
    return &SnapshotStore{ttl: ttl, stalenessWindow: stalenessWindow, cooldown: cooldown}
}

// Current returns the latest published snapshot, nil before cold start
// completes.
func (s *SnapshotStore) Current() *domain.Snapshot { return s.cur.Load() }

// Publish swaps in a freshly built snapshot.
func (s *SnapshotStore) Publish(snap *domain.Snapshot) { s.cur.Store(snap) }

// NeedsRefresh reports whether the snapshot is inside its staleness
// window (or past expiry) and a background refresh should be kicked off.
func (s *SnapshotStore) NeedsRefresh(now time.Time) bool {
    snap := s.cur.Load()
    if snap == nil { return true }
    return now.After(snap.ExpiresAt.Add(-s.stalenessWindow))
}

// Expired reports whether the snapshot is past its TTL entirely.
func (s *SnapshotStore) Expired(now time.Time) bool {
    snap := s.cur.Load()
    if snap == nil { return true }
    return now.After(snap.ExpiresAt)
}

// TryBegin claims the refresh slot. It fails when another refresh is in
// flight or the cooldown since the last attempt has not elapsed. force
// skips the cooldown but never the single-flight guard.
func (s *SnapshotStore) TryBegin(now time.Time, force bool) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.refreshing { return false }
    if !force && !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.cooldown { return false }
    s.refreshing = true
    s.lastAttempt = now
    return true
}

func (s *SnapshotStore) End() {
    s.mu.Lock()
    s.refreshing = false
    s.mu.Unlock()
}

func (s *SnapshotStore) Refreshing() bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.refreshing
}

// Stamp fills the lifecycle fields on a snapshot about to be published.
func (s *SnapshotStore) Stamp(snap *domain.Snapshot, now time.Time) {
    snap.GeneratedAt = now.UTC()
    snap.ExpiresAt = now.UTC().Add(s.ttl)
}
