/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "sync"
    "testing"
    "time"

    "github.com/joneal2022/agent-experimentation/internal/domain"
)

func newTestStore() *SnapshotStore {
    return NewSnapshotStore(2*time.Hour, 30*time.Minute, 10*time.Minute)
}

func TestSnapshotLifecycle(t *testing.T) {
    s := newTestStore()
    now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

    if s.Current() != nil {
        t.Fatalf("fresh store should hold no snapshot")
    }
    if !s.NeedsRefresh(now) || !s.Expired(now) {
        t.Fatalf("empty store should demand refresh")
    }

    snap := &domain.Snapshot{}
    s.Stamp(snap, now)
    s.Publish(snap)

    if s.Current() != snap {
        t.Fatalf("published snapshot not returned")
    }
    if snap.ExpiresAt.Sub(snap.GeneratedAt) != 2*time.Hour {
        t.Fatalf("ttl = %v", snap.ExpiresAt.Sub(snap.GeneratedAt))
    }

    // Fresh: no refresh needed.
    if s.NeedsRefresh(now.Add(30 * time.Minute)) {
        t.Fatalf("fresh snapshot flagged for refresh")
    }
    // Inside the staleness window: refresh, but not expired.
    at := now.Add(2*time.Hour - 10*time.Minute)
    if !s.NeedsRefresh(at) {
        t.Fatalf("staleness window not honored")
    }
    if s.Expired(at) {
        t.Fatalf("snapshot inside staleness window reported expired")
    }
    // Past TTL.
    if !s.Expired(now.Add(3 * time.Hour)) {
        t.Fatalf("expired snapshot not reported")
    }
}

func TestTryBeginSingleFlight(t *testing.T) {
    s := newTestStore()
    now := time.Now().UTC()

    var wins int
    var mu sync.Mutex
    var wg sync.WaitGroup
    for i := 0; i < 16; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if s.TryBegin(now, false) {
                mu.Lock(); wins++; mu.Unlock()
            }
        }()
    }
    wg.Wait()
    if wins != 1 {
        t.Fatalf("%d goroutines claimed the refresh slot, want 1", wins)
    }
    if !s.Refreshing() {
        t.Fatalf("store not marked refreshing")
    }
    s.End()
    if s.Refreshing() {
        t.Fatalf("End did not clear refreshing")
    }
}

func TestTryBeginCooldown(t *testing.T) {
    s := newTestStore()
    now := time.Now().UTC()

    if !s.TryBegin(now, false) { t.Fatalf("first claim failed") }
    s.End()

    if s.TryBegin(now.Add(5*time.Minute), false) {
        t.Fatalf("claim inside cooldown succeeded")
    }
    if !s.TryBegin(now.Add(11*time.Minute), false) {
        t.Fatalf("claim after cooldown failed")
    }
    s.End()

    // Forced claims skip cooldown but never the single-flight guard.
    if !s.TryBegin(now.Add(12*time.Minute), true) {
        t.Fatalf("forced claim failed")
    }
    if s.TryBegin(now.Add(12*time.Minute), true) {
        t.Fatalf("forced claim broke single-flight")
    }
    s.End()
}

func TestPublishIsAtomicUnderReaders(t *testing.T) {
    s := newTestStore()
    now := time.Now().UTC()

    first := &domain.Snapshot{Aggregate: domain.Aggregate{KPIs: domain.KPIs{TotalTickets: 1}}}
    s.Stamp(first, now)
    s.Publish(first)

    stop := make(chan struct{})
    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for {
                select {
                case <-stop:
                    return
                default:
                }
                snap := s.Current()
                total := snap.Aggregate.KPIs.TotalTickets
                if total != 1 && total != 2 {
                    t.Errorf("reader saw torn snapshot: total=%d", total)
                    return
                }
            }
        }()
    }
    for i := 0; i < 100; i++ {
        next := &domain.Snapshot{Aggregate: domain.Aggregate{KPIs: domain.KPIs{TotalTickets: 2}}}
        s.Stamp(next, now)
        s.Publish(next)
    }
    close(stop)
    wg.Wait()
}
