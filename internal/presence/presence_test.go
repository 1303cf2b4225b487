package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type stubChecker struct {
	capabilities map[string]map[string]access.Capability
}

func (c stubChecker) Capability(_ context.Context, noteID, userID string) (access.Capability, error) {
	return c.capabilities[noteID][userID], nil
}

func (c stubChecker) Exists(_ context.Context, noteID string) (bool, error) {
	_, ok := c.capabilities[noteID]
	return ok, nil
}

type stubDirectory struct{}

func (stubDirectory) Profiles(_ context.Context, userIDs []string) (map[string]users.Profile, error) {
	profiles := make(map[string]users.Profile, len(userIDs))
	for _, userID := range userIDs {
		profiles[userID] = users.Profile{UserID: userID, DisplayName: "User " + userID}
	}
	return profiles, nil
}

type manualClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *manualClock) Set(value time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = value
}

func newGormStore(t *testing.T) Store {
	t.Helper()
	dsn := fmt.Sprintf("file:presence_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+server.Addr())
	if err != nil {
		t.Fatalf("failed to build redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var storeFactories = map[string]func(t *testing.T) Store{
	"database": newGormStore,
	"redis":    newRedisStore,
}

func newTestService(t *testing.T, store Store, clock *manualClock) *Service {
	t.Helper()
	checker := stubChecker{capabilities: map[string]map[string]access.Capability{
		"note-1": {
			"alice": access.CapabilityOwner,
			"bob":   access.CapabilityViewer,
			"carol": access.CapabilityEditor,
		},
		"note-2": {
			"alice": access.CapabilityOwner,
		},
	}}
	service, err := NewService(ServiceConfig{
		Store:     store,
		Access:    checker,
		Directory: stubDirectory{},
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestListActiveHonorsLivenessWindow(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			clock := &manualClock{current: now.Add(-31 * time.Second)}
			service := newTestService(t, factory(t), clock)

			if err := service.Heartbeat(ctx, "note-1", "bob", nil, nil); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}
			clock.Set(now.Add(-10 * time.Second))
			cursor := 42
			if err := service.Heartbeat(ctx, "note-1", "carol", &cursor, &Selection{Start: 40, End: 50}); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}
			clock.Set(now)
			if err := service.Heartbeat(ctx, "note-1", "alice", nil, nil); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}

			active, err := service.ListActive(ctx, "note-1", "alice")
			if err != nil {
				t.Fatalf("list active failed: %v", err)
			}
			if len(active) != 1 {
				t.Fatalf("expected only carol to be active, got %#v", active)
			}
			carol := active[0]
			if carol.UserID != "carol" || carol.Profile.Name() != "User carol" {
				t.Fatalf("unexpected active user %#v", carol)
			}
			if carol.Cursor == nil || *carol.Cursor != 42 {
				t.Fatalf("expected cursor to round-trip, got %v", carol.Cursor)
			}
			if carol.Selection == nil || carol.Selection.Start != 40 || carol.Selection.End != 50 {
				t.Fatalf("expected selection to round-trip, got %#v", carol.Selection)
			}
			if carol.LastSeenMillis != now.Add(-10*time.Second).UnixMilli() {
				t.Fatalf("unexpected last seen %d", carol.LastSeenMillis)
			}
		})
	}
}

func TestHeartbeatRefreshesExistingRecord(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			clock := &manualClock{current: now.Add(-time.Minute)}
			service := newTestService(t, factory(t), clock)

			if err := service.Heartbeat(ctx, "note-1", "bob", nil, nil); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}
			clock.Set(now)
			if err := service.Heartbeat(ctx, "note-1", "bob", nil, nil); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}
			active, err := service.ListActive(ctx, "note-1", "alice")
			if err != nil {
				t.Fatalf("list active failed: %v", err)
			}
			if len(active) != 1 || active[0].LastSeenMillis != now.UnixMilli() {
				t.Fatalf("expected one refreshed record, got %#v", active)
			}
		})
	}
}

func TestSweepRemovesRecordsOlderThanRetention(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			store := factory(t)
			clock := &manualClock{}
			service := newTestService(t, store, clock)

			clock.Set(now.Add(-5*time.Minute - time.Second))
			if err := service.Heartbeat(ctx, "note-1", "bob", nil, nil); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}
			clock.Set(now.Add(-5 * time.Minute))
			if err := service.Heartbeat(ctx, "note-1", "carol", nil, nil); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}
			clock.Set(now.Add(-6 * time.Minute))
			if err := service.Heartbeat(ctx, "note-2", "alice", nil, nil); err != nil {
				t.Fatalf("heartbeat failed: %v", err)
			}

			clock.Set(now)
			removed, err := service.Sweep(ctx)
			if err != nil {
				t.Fatalf("sweep failed: %v", err)
			}
			if removed != 2 {
				t.Fatalf("expected two stale records removed, got %d", removed)
			}
			remaining, err := store.ListSince(ctx, "note-1", 0)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(remaining) != 1 || remaining[0].UserID != "carol" {
				t.Fatalf("expected the record at the boundary to survive, got %#v", remaining)
			}
		})
	}
}

func TestPresenceRequiresViewerCapability(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{current: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	service := newTestService(t, newGormStore(t), clock)

	if err := service.Heartbeat(ctx, "note-1", "mallory", nil, nil); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected stranger heartbeat to be forbidden, got %v", err)
	}
	if _, err := service.ListActive(ctx, "note-2", "bob"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected listing without grant to be forbidden, got %v", err)
	}
	if err := service.Heartbeat(ctx, "ghost", "bob", nil, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected missing note, got %v", err)
	}
	if err := service.Heartbeat(ctx, "note-1", "", nil, nil); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if err := service.Heartbeat(ctx, "note-1", "bob", nil, &Selection{Start: 5, End: 2}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected inverted selection to fail validation, got %v", err)
	}
	negative := -1
	if err := service.Heartbeat(ctx, "note-1", "bob", &negative, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected negative cursor to fail validation, got %v", err)
	}
}

func TestRedisSweepUnindexesEmptyNotes(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStoreWithClient(client)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	if err := store.Upsert(ctx, Record{NoteID: "note-1", UserID: "bob", LastSeenMillis: 1000}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	removed, err := store.DeleteBefore(ctx, 2000)
	if err != nil || removed != 1 {
		t.Fatalf("expected one removal, got %d err=%v", removed, err)
	}
	members, err := client.SMembers(ctx, redisNotesKey).Result()
	if err != nil {
		t.Fatalf("smembers failed: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected note index to be empty, got %v", members)
	}
	if server.Exists(cursorsKey("note-1")) {
		t.Fatalf("expected cursor hash to be dropped")
	}
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) Sweep(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return 1, r.err
}

func (r *countingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	runner := &countingRunner{err: errors.New("store offline")}
	sweeper := NewSweeper(runner, 5*time.Millisecond, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for runner.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
	if runner.Calls() < 2 {
		t.Fatalf("expected repeated sweeps, got %d", runner.Calls())
	}
	if logs.FilterMessage("presence sweep failed").Len() == 0 {
		t.Fatalf("expected sweep failures to be logged")
	}
}

func TestSweeperDisabledWithoutInterval(t *testing.T) {
	runner := &countingRunner{}
	if err := NewSweeper(runner, 0, nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.Calls() != 0 {
		t.Fatalf("expected no sweeps when disabled")
	}
}
