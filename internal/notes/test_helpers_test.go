package notes

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/events"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *steppingClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(step)
}

type recordingPublisher struct {
	mu         sync.Mutex
	activities []events.NoteActivity
}

func (p *recordingPublisher) PublishNoteActivity(_ context.Context, activity events.NoteActivity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activities = append(p.activities, activity)
	return nil
}

func (p *recordingPublisher) Recorded() []events.NoteActivity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.NoteActivity(nil), p.activities...)
}

type shareRow struct {
	ShareID   string `gorm:"column:share_id;primaryKey"`
	NoteID    string `gorm:"column:note_id"`
	GranteeID string `gorm:"column:grantee_id"`
	Role      string `gorm:"column:role"`
}

func (shareRow) TableName() string {
	return access.SharesTable
}

type testHarness struct {
	service   *Service
	db        *gorm.DB
	clock     *steppingClock
	publisher *recordingPublisher
	cascaded  []string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:notes_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}, &NoteVersion{}, &shareRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	resolver, err := access.NewResolver(db)
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}

	harness := &testHarness{
		db:        db,
		clock:     &steppingClock{current: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      harness.clock.Now,
		IDProvider: &sequenceIDs{prefix: "id"},
		Access:     resolver,
		Activity:   harness.publisher,
		DeleteCascades: []CascadeFunc{
			func(tx *gorm.DB, noteID string) error {
				harness.cascaded = append(harness.cascaded, noteID)
				return tx.Where("note_id = ?", noteID).Delete(&shareRow{}).Error
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	harness.service = service
	return harness
}

func (h *testHarness) grant(t *testing.T, noteID, granteeID string, role access.Role) {
	t.Helper()
	row := shareRow{
		ShareID:   fmt.Sprintf("share-%s-%s", noteID, granteeID),
		NoteID:    noteID,
		GranteeID: granteeID,
		Role:      role.String(),
	}
	if err := h.db.Create(&row).Error; err != nil {
		t.Fatalf("failed to insert grant: %v", err)
	}
}

func (h *testHarness) mustCreate(t *testing.T, ownerID string, input CreateInput) Note {
	t.Helper()
	note, err := h.service.Create(context.Background(), ownerID, input)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return note
}

func stringPointer(value string) *string {
	return &value
}
