package storage

import (
	"os"
	"path/filepath"
	"testing"

	"chathub/internal/models"
)

func testRecord(name string, ctime int64) models.SessionRecord {
	return models.SessionRecord{
		ChatLog: []models.Message{
			{Role: models.RoleUser, Content: "hello"},
			{Role: models.RoleAssistant, Content: "hi"},
		},
		Creator:       42,
		Users:         []int64{42, 7},
		Group:         "g1",
		Name:          name,
		CreationTime:  ctime,
		ChatMemoryMax: 10,
		HistoryMax:    100,
		BasicLen:      2,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	rec := testRecord("alpha", 1700000000)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	records, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Name != rec.Name || got.Creator != rec.Creator || got.CreationTime != rec.CreationTime {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if got.BasicLen != rec.BasicLen || len(got.ChatLog) != len(rec.ChatLog) {
		t.Fatalf("log mismatch: %+v", got)
	}
	if len(got.Users) != 2 || got.Users[0] != 42 {
		t.Fatalf("users mismatch: %v", got.Users)
	}
}

func TestFileStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	rec := testRecord("gone", 1700000001)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(rec.Identity()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, rec.Identity().FileName())); !os.IsNotExist(err) {
		t.Fatalf("file still present after delete")
	}
	// deleting twice is not an error
	if err := store.Delete(rec.Identity()); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestFileStoreSkipsCorruptAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Save(testRecord("good", 1700000002)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir.json"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	records, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 1 || records[0].Name != "good" {
		t.Fatalf("expected only the valid record, got %+v", records)
	}
}

func TestFileStoreGroupAuth(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	auth, err := store.LoadGroupAuth()
	if err != nil {
		t.Fatalf("LoadGroupAuth on empty dir: %v", err)
	}
	if len(auth) != 0 {
		t.Fatalf("expected empty auth map, got %v", auth)
	}

	want := map[string]bool{"g1": true, "g2": false}
	if err := store.SaveGroupAuth(want); err != nil {
		t.Fatalf("SaveGroupAuth: %v", err)
	}
	got, err := store.LoadGroupAuth()
	if err != nil {
		t.Fatalf("LoadGroupAuth: %v", err)
	}
	if len(got) != 2 || !got["g1"] || got["g2"] {
		t.Fatalf("auth round trip mismatch: %v", got)
	}
}

func TestFileStoreAuthFileNotListedAsSession(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.SaveGroupAuth(map[string]bool{"g": true}); err != nil {
		t.Fatalf("SaveGroupAuth: %v", err)
	}
	records, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("auth file leaked into session listing: %+v", records)
	}
}

func TestFileStoreRejectsEmptyDir(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
