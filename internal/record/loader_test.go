package record

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDirReadsObjectsAndArrays(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "single.json", `{"conversationId":"conv_1","title":"One"}`)
	writeTestFile(t, dir, "multi.json", `[{"conversation_id":"conv_2"},{"conversation_id":"conv_3"}]`)
	writeTestFile(t, dir, ".status.json", `{"conversation_id":"hidden"}`)
	writeTestFile(t, dir, "notes.txt", `not json`)

	records, err := LoadDir(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("loaded %d records, want 3: %v", len(records), records)
	}
	for _, rec := range records {
		if rec.SourceFile() == "" {
			t.Fatalf("record missing source file tag: %v", rec)
		}
		if rec.Key() == "" || rec.Key() == "hidden" {
			t.Fatalf("unexpected record key %q", rec.Key())
		}
	}
	if records[1].Key() != "conv_2" || records[2].Key() != "conv_3" {
		t.Fatalf("array elements out of order: %v", records)
	}
	if records[0].Key() != "conv_1" {
		t.Fatalf("camelCase key not normalized at load: %v", records[0])
	}
}

func TestLoadDirSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "bad.json", `{"conversation_id": `)
	writeTestFile(t, dir, "good.json", `{"conversation_id":"conv_ok"}`)

	records, err := LoadDir(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(records) != 1 || records[0].Key() != "conv_ok" {
		t.Fatalf("records = %v, want only conv_ok", records)
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	records, err := LoadDir(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	if err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %v, want none", records)
	}
}

func TestLoadDirRejectsNonObjectElements(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "mixed.json", `[{"conversation_id":"conv_1"}, 42]`)
	writeTestFile(t, dir, "ok.json", `{"conversation_id":"conv_2"}`)

	records, err := LoadDir(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(records) != 1 || records[0].Key() != "conv_2" {
		t.Fatalf("records = %v, want only conv_2", records)
	}
}
