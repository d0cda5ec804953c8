package slot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("initial load error = %v, want ErrEmpty", err)
	}
	if err := s.Save(ctx, Job{ID: "job-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, Job{ID: "job-2", Profile: "lipsync"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	job, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if job.ID != "job-2" || job.Profile != "lipsync" {
		t.Fatalf("job = %+v, want job-2 on lipsync", job)
	}
	if err := s.Save(ctx, Job{ID: "  ", Profile: "z-image"}); err == nil {
		t.Fatalf("expected error for blank id")
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("load after clear error = %v, want ErrEmpty", err)
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "image-page.last")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exerciseStore(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileStore(dir, "chat.last")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := first.Save(context.Background(), Job{ID: "job-9", Profile: "z-image"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	second, err := NewFileStore(dir, "chat.last")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	job, err := second.Load(context.Background())
	if err != nil || job.ID != "job-9" || job.Profile != "z-image" {
		t.Fatalf("load = %+v, %v; want job-9 on z-image", job, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("dir entries = %d, want 1 (temp files left behind?)", len(entries))
	}
}

func TestFileStoreReadsBareID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "image.last"), []byte("job-3\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, err := NewFileStore(dir, "image.last")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	job, err := s.Load(context.Background())
	if err != nil || job.ID != "job-3" || job.Profile != "" {
		t.Fatalf("load = %+v, %v; want bare job-3", job, err)
	}
}

func TestFileStoreKeyCannotEscape(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "../../etc/last")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if filepath.Dir(s.Path()) != dir {
		t.Fatalf("path = %s escapes %s", s.Path(), dir)
	}
	if _, err := NewFileStore(dir, ".."); err == nil {
		t.Fatalf("expected error for key ..")
	}
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := NewRedisStore(client, "fedda:image:last-job", 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	exerciseStore(t, s)
}

func TestRedisStoreTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := NewRedisStore(client, "fedda:video:last-job", time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Save(context.Background(), Job{ID: "job-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("load after expiry error = %v, want ErrEmpty", err)
	}
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	if err := s.Save(context.Background(), Job{ID: "job-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("load error = %v, want ErrEmpty", err)
	}
}
