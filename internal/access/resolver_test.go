package access_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type noteRow struct {
	NoteID  string `gorm:"column:note_id;primaryKey"`
	OwnerID string `gorm:"column:owner_id"`
}

func (noteRow) TableName() string { return access.NotesTable }

type shareRow struct {
	ShareID   string `gorm:"column:share_id;primaryKey"`
	NoteID    string `gorm:"column:note_id"`
	GranteeID string `gorm:"column:grantee_id"`
	Role      string `gorm:"column:role"`
}

func (shareRow) TableName() string { return access.SharesTable }

func newResolver(t *testing.T) (*access.Resolver, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:access_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&noteRow{}, &shareRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	resolver, err := access.NewResolver(db)
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	return resolver, db
}

func TestResolverCapabilities(t *testing.T) {
	resolver, db := newResolver(t)
	rows := []any{
		&noteRow{NoteID: "note-1", OwnerID: "alice"},
		&shareRow{ShareID: "s1", NoteID: "note-1", GranteeID: "bob", Role: "viewer"},
		&shareRow{ShareID: "s2", NoteID: "note-1", GranteeID: "carol", Role: "editor"},
		&shareRow{ShareID: "s3", NoteID: "note-1", GranteeID: "alice", Role: "viewer"},
		&shareRow{ShareID: "s4", NoteID: "ghost", GranteeID: "bob", Role: "editor"},
	}
	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	testCases := []struct {
		name   string
		noteID string
		userID string
		want   access.Capability
	}{
		{name: "owner supersedes grant", noteID: "note-1", userID: "alice", want: access.CapabilityOwner},
		{name: "viewer grant", noteID: "note-1", userID: "bob", want: access.CapabilityViewer},
		{name: "editor grant", noteID: "note-1", userID: "carol", want: access.CapabilityEditor},
		{name: "stranger", noteID: "note-1", userID: "mallory", want: access.CapabilityNone},
		{name: "missing note ignores dangling grant", noteID: "ghost", userID: "bob", want: access.CapabilityNone},
		{name: "empty user", noteID: "note-1", userID: " ", want: access.CapabilityNone},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := resolver.Capability(context.Background(), testCase.noteID, testCase.userID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}

func TestResolverReflectsGrantChangesImmediately(t *testing.T) {
	resolver, db := newResolver(t)
	ctx := context.Background()
	if err := db.Create(&noteRow{NoteID: "note-1", OwnerID: "alice"}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := db.Create(&shareRow{ShareID: "s1", NoteID: "note-1", GranteeID: "bob", Role: "viewer"}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	before, err := resolver.Capability(ctx, "note-1", "bob")
	if err != nil || before != access.CapabilityViewer {
		t.Fatalf("expected viewer, got %s err=%v", before, err)
	}
	if err := db.Model(&shareRow{}).Where("share_id = ?", "s1").Update("role", "editor").Error; err != nil {
		t.Fatalf("update failed: %v", err)
	}
	after, err := resolver.Capability(ctx, "note-1", "bob")
	if err != nil || after != access.CapabilityEditor {
		t.Fatalf("expected editor after role change, got %s err=%v", after, err)
	}
	if err := db.Where("share_id = ?", "s1").Delete(&shareRow{}).Error; err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	revoked, err := resolver.Capability(ctx, "note-1", "bob")
	if err != nil || revoked != access.CapabilityNone {
		t.Fatalf("expected none after revoke, got %s err=%v", revoked, err)
	}
}

func TestParseRoleAndCapabilityOrdering(t *testing.T) {
	role, err := access.ParseRole(" Editor ")
	if err != nil || role != access.RoleEditor {
		t.Fatalf("expected editor, got %q err=%v", role, err)
	}
	if _, err := access.ParseRole("owner"); err == nil {
		t.Fatalf("owner must not be a grantable role")
	}
	if !access.CapabilityOwner.CanManage() || access.CapabilityEditor.CanManage() {
		t.Fatalf("only owners manage")
	}
	if !access.CapabilityEditor.CanWrite() || access.CapabilityViewer.CanWrite() {
		t.Fatalf("editors write, viewers do not")
	}
	if !access.CapabilityViewer.CanRead() || access.CapabilityNone.CanRead() {
		t.Fatalf("viewers read, strangers do not")
	}
}

func TestResolverExists(t *testing.T) {
	resolver, db := newResolver(t)
	if err := db.Create(&noteRow{NoteID: "note-1", OwnerID: "alice"}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	exists, err := resolver.Exists(context.Background(), "note-1")
	if err != nil || !exists {
		t.Fatalf("expected note to exist, got %v err=%v", exists, err)
	}
	exists, err = resolver.Exists(context.Background(), "ghost")
	if err != nil || exists {
		t.Fatalf("expected ghost note to be absent, got %v err=%v", exists, err)
	}
}
