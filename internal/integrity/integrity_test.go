package integrity_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"handoverphotos/internal/integrity"
	"handoverphotos/internal/services"
)

func TestDigestFormat(t *testing.T) {
	got := integrity.Digest([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("Digest(abc) = %s, want %s", got, want)
	}
	if len(integrity.Digest(nil)) != integrity.HashLength {
		t.Fatalf("expected %d hex chars for empty input", integrity.HashLength)
	}
}

func TestDigestReaderMatchesDigest(t *testing.T) {
	data := bytes.Repeat([]byte("handover"), 4096)
	hash, n, err := integrity.DigestReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DigestReader: %v", err)
	}
	if n != int64(len(data)) || hash != integrity.Digest(data) {
		t.Fatalf("unexpected stream digest %s (%d bytes)", hash, n)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	inputs := [][]byte{nil, {}, []byte("a"), []byte("photo bytes"), bytes.Repeat([]byte{0xff}, 1<<16)}
	for _, b := range inputs {
		if !integrity.Verify(b, integrity.Digest(b)) {
			t.Fatalf("verify(b, digest(b)) failed for %d bytes", len(b))
		}
	}
	if integrity.Verify([]byte("one"), integrity.Digest([]byte("two"))) {
		t.Fatal("expected mismatch for different content")
	}
	if !integrity.Verify([]byte("one"), strings.ToUpper(integrity.Digest([]byte("one")))) {
		t.Fatal("expected uppercase hex to verify")
	}
	for _, bad := range []string{"", "zz", strings.Repeat("g", integrity.HashLength)} {
		if integrity.Verify([]byte("one"), bad) {
			t.Fatalf("expected malformed hash %q to fail", bad)
		}
	}
}

func entries() []integrity.FileEntry {
	return []integrity.FileEntry{
		{Name: "thumb", Hash: integrity.Digest([]byte("t")), Size: 10},
		{Name: "gallery", Hash: integrity.Digest([]byte("g")), Size: 2048},
		{Name: "pdf", Hash: integrity.Digest([]byte("p")), Size: 0},
	}
}

func TestBuildManifestSumsSizes(t *testing.T) {
	m, err := integrity.BuildManifest(entries())
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if m.TotalSize() != 2058 {
		t.Fatalf("total size = %d, want 2058", m.TotalSize())
	}
	if m.Version() != integrity.ManifestVersion {
		t.Fatalf("unexpected version %q", m.Version())
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if entry, ok := m.Lookup("gallery"); !ok || entry.Size != 2048 {
		t.Fatalf("lookup gallery = %+v %v", entry, ok)
	}
}

func TestBuildManifestRejectsBadInput(t *testing.T) {
	good := entries()
	tests := []struct {
		name  string
		files []integrity.FileEntry
	}{
		{"empty", nil},
		{"negative size", []integrity.FileEntry{{Name: "a", Hash: good[0].Hash, Size: -1}}},
		{"missing name", []integrity.FileEntry{{Hash: good[0].Hash, Size: 1}}},
		{"bad hash", []integrity.FileEntry{{Name: "a", Hash: "nothex", Size: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := integrity.BuildManifest(tt.files)
			if !errors.Is(err, services.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestManifestIsIsolatedFromCaller(t *testing.T) {
	files := entries()
	m, err := integrity.BuildManifest(files)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	files[0].Size = 999
	got := m.Files()
	if got[0].Size != 10 {
		t.Fatal("caller mutation leaked into manifest")
	}
	got[1].Name = "changed"
	if m.Files()[1].Name != "gallery" {
		t.Fatal("Files returned an internal reference")
	}
}

func TestConsecutiveBuildsHaveIndependentTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	builder := integrity.Builder{Now: func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Millisecond)
	}}
	first, err := builder.Build(entries())
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := builder.Build(entries())
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !reflect.DeepEqual(first.Files(), second.Files()) || first.TotalSize() != second.TotalSize() {
		t.Fatal("expected identical files and totals")
	}
	if first.Timestamp().Equal(second.Timestamp()) {
		t.Fatal("expected independent timestamps")
	}
}

func TestSupersedeLeavesOriginal(t *testing.T) {
	m, err := integrity.BuildManifest(entries()[:1])
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	next, err := m.Supersede(integrity.Builder{}, entries()[1])
	if err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	if len(m.Files()) != 1 || len(next.Files()) != 2 {
		t.Fatalf("unexpected file counts %d/%d", len(m.Files()), len(next.Files()))
	}
	if next.TotalSize() != 2058 {
		t.Fatalf("unexpected superseded total %d", next.TotalSize())
	}
}

func TestManifestJSONRoundTripAndTamperDetection(t *testing.T) {
	m, err := integrity.BuildManifest(entries())
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"files"`, `"totalSize":2058`, `"timestamp"`, `"version":"2.0"`} {
		if !bytes.Contains(data, []byte(key)) {
			t.Fatalf("expected %s in %s", key, data)
		}
	}
	var decoded integrity.Manifest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.TotalSize() != m.TotalSize() || len(decoded.Files()) != 3 {
		t.Fatalf("unexpected decoded manifest %+v", decoded.Files())
	}

	tampered := bytes.Replace(data, []byte(`"totalSize":2058`), []byte(`"totalSize":2000`), 1)
	if err := json.Unmarshal(tampered, &decoded); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected tampered manifest to be rejected, got %v", err)
	}
}
