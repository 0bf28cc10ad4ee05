package vfcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/testhelpers"
)

func TestArtifactName_RoundTrip(t *testing.T) {
	start := time.Date(2024, 4, 30, 6, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 3, 11, 0, 0, 0, time.UTC)
	name := artifactName(start, end)
	if name != "2024-04-30-06_2024-05-03-11_velocityfield.json.zst" {
		t.Errorf("artifactName() = %q", name)
	}
	gotStart, gotEnd, ok := parseArtifactName(name)
	if !ok || !gotStart.Equal(start) || !gotEnd.Equal(end) {
		t.Errorf("parseArtifactName() = %v, %v, %v", gotStart, gotEnd, ok)
	}
}

func TestParseArtifactName_Foreign(t *testing.T) {
	for _, name := range []string{
		"notes.txt",
		"2024-04-30-06_velocityfield.json.zst",
		"2024-05-03-11_2024-04-30-06_velocityfield.json.zst",
		"yesterday_today_velocityfield.json.zst",
		"2024-04-30-06_2024-05-03-11_velocityfield.nc",
	} {
		if _, _, ok := parseArtifactName(name); ok {
			t.Errorf("parseArtifactName(%q) ok = true", name)
		}
	}
}

func TestWriteReadArtifact(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 4, 30, 6, 0, 0, 0, time.UTC)
	w := testhelpers.UniformField(testhelpers.FieldSpec{Lat: 81, Lon: 20, Start: start, Hours: 5, Cells: 4, Spacing: 6000, U: 0.3, V: -0.1, Masked: true})

	path := filepath.Join(dir, artifactName(w.Start, w.End))
	if err := WriteArtifact(path, w); err != nil {
		t.Fatalf("WriteArtifact() error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the artifact", len(entries))
	}

	got, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact() error = %v", err)
	}
	if !got.Start.Equal(w.Start) || !got.End.Equal(w.End) {
		t.Errorf("window = [%v, %v], want [%v, %v]", got.Start, got.End, w.Start, w.End)
	}
	nt, rows, cols := got.Shape()
	if nt != 6 || rows != 4 || cols != 4 {
		t.Errorf("Shape() = (%d, %d, %d), want (6, 4, 4)", nt, rows, cols)
	}
	if got.V[5][3][3] != -0.1 || !got.Masked(2, 1, 1) {
		t.Error("values or mask not preserved")
	}
}

func TestReadArtifact_RejectsBadShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	doc := `{"start":"2024-01-01T00:00:00Z","end":"2024-01-02T00:00:00Z","time":[1,2],"latitude":[[80]],"longitude":[[0]],"u":[[[0]]],"v":[[[0]],[[0]]]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadArtifact(path); err == nil {
		t.Error("ReadArtifact() error = nil, want shape error")
	}
	if _, err := ReadArtifact(filepath.Join(t.TempDir(), "missing.json.zst")); err == nil {
		t.Error("ReadArtifact(missing) error = nil")
	}
}
