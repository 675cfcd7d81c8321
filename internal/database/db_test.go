package database

import (
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state", "termdeck.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadEmpty(t *testing.T) {
	db := openTemp(t)
	l, err := db.LoadLayout()
	if err != nil {
		t.Fatalf("LoadLayout: %v", err)
	}
	if len(l.Tabs) != 0 || l.ActiveSessionID != "" || l.IsOpen || l.PanelHeight != 0 {
		t.Errorf("empty layout = %+v", l)
	}
}

func TestSaveAndLoadLayout(t *testing.T) {
	db := openTemp(t)
	want := Layout{
		Tabs: []Tab{
			{ID: "a", TargetName: "shell", Title: "shell"},
			{ID: "b", TargetName: "zsh", Title: "zsh"},
		},
		ActiveSessionID: "b",
		IsOpen:          true,
		PanelHeight:     420,
	}
	if err := db.SaveLayout(want); err != nil {
		t.Fatalf("SaveLayout: %v", err)
	}

	got, err := db.LoadLayout()
	if err != nil {
		t.Fatalf("LoadLayout: %v", err)
	}
	if len(got.Tabs) != 2 || got.Tabs[0].ID != "a" || got.Tabs[1].ID != "b" {
		t.Fatalf("tabs = %+v", got.Tabs)
	}
	if got.Tabs[1].TargetName != "zsh" || got.Tabs[1].Position != 1 {
		t.Errorf("tab b = %+v", got.Tabs[1])
	}
	if got.Tabs[0].CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	if got.ActiveSessionID != "b" || !got.IsOpen || got.PanelHeight != 420 {
		t.Errorf("panel = %q %v %d", got.ActiveSessionID, got.IsOpen, got.PanelHeight)
	}
}

func TestSaveLayoutReplacesTabs(t *testing.T) {
	db := openTemp(t)
	first := Layout{Tabs: []Tab{{ID: "a", TargetName: "t", Title: "t"}, {ID: "b", TargetName: "t", Title: "t"}}, ActiveSessionID: "b", IsOpen: true, PanelHeight: 300}
	if err := db.SaveLayout(first); err != nil {
		t.Fatal(err)
	}
	before, _ := db.LoadLayout()

	second := Layout{Tabs: []Tab{{ID: "a", TargetName: "t", Title: "t"}}, ActiveSessionID: "a", IsOpen: false, PanelHeight: 150}
	if err := db.SaveLayout(second); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadLayout()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tabs) != 1 || got.Tabs[0].ID != "a" {
		t.Fatalf("tabs = %+v", got.Tabs)
	}
	if !got.Tabs[0].CreatedAt.Equal(before.Tabs[0].CreatedAt) {
		t.Errorf("created_at changed from %v to %v", before.Tabs[0].CreatedAt, got.Tabs[0].CreatedAt)
	}
	if got.ActiveSessionID != "a" || got.IsOpen || got.PanelHeight != 150 {
		t.Errorf("panel = %q %v %d", got.ActiveSessionID, got.IsOpen, got.PanelHeight)
	}
}
