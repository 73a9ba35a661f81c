package artifact

import (
	"context"
	"os"
	"testing"

	"github.com/CoderFake/document-processing-system/internal/job"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if ref.StorageID == "" || ref.StorageID != ref.ContentHash {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if ref.Size != 5 {
		t.Fatalf("size = %d, want 5", ref.Size)
	}

	data, err := s.Get(ctx, ref.StorageID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want hello", data)
	}
}

func TestMemoryStorePutIsContentAddressed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.Put(ctx, []byte("same"))
	b, _ := s.Put(ctx, []byte("same"))
	c, _ := s.Put(ctx, []byte("different"))

	if a.StorageID != b.StorageID {
		t.Fatalf("identical bytes produced distinct ids: %s vs %s", a.StorageID, b.StorageID)
	}
	if a.StorageID == c.StorageID {
		t.Fatal("distinct bytes produced the same id")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMaterializeWritesFile(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ref, _ := s.Put(ctx, []byte("doc-bytes"))
	ref.Role = "primary"

	dir := t.TempDir()
	path, err := Materialize(ctx, s, ref, dir)
	if err != nil {
		t.Fatalf("Materialize returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if string(data) != "doc-bytes" {
		t.Fatalf("materialized content = %q", data)
	}
}

func TestMaterializeMissingArtifact(t *testing.T) {
	s := NewMemoryStore()
	_, err := Materialize(context.Background(), s, job.ArtifactRef{StorageID: "missing"}, t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
}
