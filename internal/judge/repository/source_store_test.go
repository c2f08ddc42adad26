package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"judgecore/internal/common/storage"
	"judgecore/internal/judge/repository"
)

func TestSourceStoreCompressesAndRestores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	store, err := repository.NewSourceStore(objects, "sources")
	if err != nil {
		t.Fatalf("NewSourceStore: %v", err)
	}
	source := strings.Repeat("#include <stdio.h>\n", 200)
	key, err := store.Save(ctx, "sub-1", source)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	stat, err := objects.StatObject(ctx, "sources", key)
	if err != nil {
		t.Fatalf("StatObject: %v", err)
	}
	if stat.SizeBytes >= int64(len(source)) {
		t.Fatalf("blob not compressed: %d >= %d", stat.SizeBytes, len(source))
	}
	got, err := store.Load(ctx, key)
	if err != nil || got != source {
		t.Fatalf("Load mismatch, err=%v", err)
	}
	if _, err := store.Load(ctx, "submissions/missing.zst"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Load missing = %v", err)
	}
}
