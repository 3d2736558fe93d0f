package datastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx := context.Background()
	for name, body := range map[string]string{
		"iris/train.csv":    "1,2\n",
		"iris/sub/test.csv": "3,4\n",
		"mnist/labels.txt":  "0\n",
		"irises/decoy.txt":  "x",
	} {
		if err := s.StoreObject(ctx, name, []byte(body), filepath.Base(name), ""); err != nil {
			t.Fatalf("StoreObject(%s) failed: %v", name, err)
		}
	}
	return s
}

func TestFolderPrefix(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"iris":   "iris/",
		"iris/":  "iris/",
		"/a\\b": "a/b/",
	}
	for in, want := range cases {
		if got := FolderPrefix(in); got != want {
			t.Errorf("FolderPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalStoreList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.List(ctx, "iris/", true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"iris/sub/test.csv", "iris/train.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("recursive List = %v, want %v", got, want)
	}

	got, err = s.List(ctx, "iris/", false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want = []string{"iris/sub/", "iris/train.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("flat List = %v, want %v", got, want)
	}
}

func TestDatasetExistsDoesNotMatchSiblingPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := DatasetExists(ctx, s, "iris")
	if err != nil || !ok {
		t.Fatalf("DatasetExists(iris) = %v, %v", ok, err)
	}
	ok, err = DatasetExists(ctx, s, "iri")
	if err != nil || ok {
		t.Errorf("DatasetExists(iri) = %v, %v, want false", ok, err)
	}
	ok, _ = DatasetExists(ctx, s, "")
	if ok {
		t.Errorf("empty dataset name reported as existing")
	}
}

func TestListDatasets(t *testing.T) {
	s := newTestStore(t)
	names, err := ListDatasets(context.Background(), s)
	if err != nil {
		t.Fatalf("ListDatasets failed: %v", err)
	}
	want := []string{"iris", "irises", "mnist"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ListDatasets = %v, want %v", names, want)
	}
}

func TestLoadFolderToFilesystem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "out")

	p, err := s.LoadFolderToFilesystem(ctx, "iris", dst)
	if err != nil {
		t.Fatalf("LoadFolderToFilesystem failed: %v", err)
	}
	if p != dst {
		t.Errorf("returned path = %s, want %s", p, dst)
	}
	data, err := os.ReadFile(filepath.Join(dst, "sub", "test.csv"))
	if err != nil {
		t.Fatalf("nested file not materialized: %v", err)
	}
	if string(data) != "3,4\n" {
		t.Errorf("unexpected content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dst, "decoy.txt")); !os.IsNotExist(err) {
		t.Errorf("sibling dataset leaked into the folder")
	}

	if _, err := s.LoadFolderToFilesystem(ctx, "missing", dst); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing folder error = %v, want ErrNotFound", err)
	}
}

func TestLoadObjectNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.LoadObjectToMemory(ctx, "nope.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadObjectToMemory error = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadFolderToMemory(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadFolderToMemory error = %v, want ErrNotFound", err)
	}
}

func TestStoreFileOrFolder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a", "w.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.StoreFileOrFolder(ctx, "exp/run/model", src); err != nil {
		t.Fatalf("StoreFileOrFolder failed: %v", err)
	}
	contents, err := s.LoadFolderToMemory(ctx, "exp/run/model")
	if err != nil {
		t.Fatalf("LoadFolderToMemory failed: %v", err)
	}
	if string(contents["exp/run/model/a/w.json"]) != "{}" {
		t.Errorf("unexpected contents %v", contents)
	}
}

func TestLocalStoreRejectsEscapingPaths(t *testing.T) {
	s := newTestStore(t)
	err := s.StoreObject(context.Background(), "../outside.txt", []byte("x"), "outside.txt", "")
	if err == nil {
		t.Errorf("expected an error for a path outside the data directory")
	}
}

func TestDetectMime(t *testing.T) {
	if got := detectMime([]byte(`{"a":1}`), "m.json"); got != "application/json" {
		t.Errorf("detectMime(json) = %s", got)
	}
}
