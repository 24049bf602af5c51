package loader

import (
	"errors"
	"sync"
	"testing"

	"github.com/any-hub/any-stream/internal/cache"
)

func TestManagerReturnsOneSessionPerURL(t *testing.T) {
	upstream := newRangeUpstream(t, testPayload(512))
	manager := newTestManager(t, upstream)

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := manager.Session(upstream.url)
			if err != nil {
				t.Errorf("session error: %v", err)
				return
			}
			sessions[i] = session
		}(i)
	}
	wg.Wait()

	for _, session := range sessions[1:] {
		if session != sessions[0] {
			t.Fatalf("concurrent lookups must share a single session")
		}
	}
	if got := len(manager.Sessions()); got != 1 {
		t.Fatalf("expected 1 session, got %d", got)
	}
}

func TestManagerPurgeDropsCachedBytes(t *testing.T) {
	payload := testPayload(512)
	upstream := newRangeUpstream(t, payload)
	manager := newTestManager(t, upstream)

	session, err := manager.Session(upstream.url)
	if err != nil {
		t.Fatalf("session error: %v", err)
	}
	result := readAll(t, session, ReadRequest{Identity: "p", Range: cache.NewRange(0, 200)})
	if result.err != nil {
		t.Fatalf("read error: %v", result.err)
	}
	if err := session.Shutdown(); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	size, err := manager.CacheSize()
	if err != nil || size == 0 {
		t.Fatalf("expected cached bytes on disk, got %d (%v)", size, err)
	}

	if err := manager.Purge(); err != nil {
		t.Fatalf("purge error: %v", err)
	}
	if size, _ := manager.CacheSize(); size != 0 {
		t.Fatalf("expected empty cache after purge, got %d", size)
	}

	fresh, err := manager.Session(upstream.url)
	if err != nil {
		t.Fatalf("session after purge: %v", err)
	}
	if fresh == session {
		t.Fatalf("purge should drop the old session")
	}
	if len(fresh.Fragments()) != 0 {
		t.Fatalf("fresh session should start with an empty index")
	}
}

func TestManagerRejectsSessionsAfterShutdown(t *testing.T) {
	upstream := newRangeUpstream(t, testPayload(64))
	manager := newTestManager(t, upstream)

	if err := manager.Shutdown(); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if _, err := manager.Session(upstream.url); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func newTestManager(t *testing.T, upstream *rangeUpstream) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerOptions{
		Dir:       t.TempDir(),
		Transport: ClientTransport(upstream.server.Client()),
		Logger:    quietLogger(),
		Split:     SplitOptions{SegmentSize: 64},
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	t.Cleanup(func() { _ = manager.Shutdown() })
	return manager
}
