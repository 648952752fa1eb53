package proxy

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestCachePutGet(t *testing.T) {
	c, err := NewCache(t.TempDir(), "v1")
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if _, ok := c.Get("GET /app.js"); ok {
		t.Fatal("hit on empty cache")
	}

	want := &Entry{
		Status: 200,
		Header: http.Header{"Content-Type": {"application/javascript"}},
		Body:   []byte("console.log('hi')"),
	}
	if err := c.Put("GET /app.js", want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := c.Get("GET /app.js")
	if !ok {
		t.Fatal("miss after put")
	}
	if got.Status != 200 || string(got.Body) != "console.log('hi')" {
		t.Errorf("entry = %+v", got)
	}
	if got.Header.Get("Content-Type") != "application/javascript" {
		t.Errorf("header = %v", got.Header)
	}
}

func TestActivateDeletesOtherGenerations(t *testing.T) {
	root := t.TempDir()
	for _, old := range []string{"v1", "v2"} {
		if err := os.MkdirAll(filepath.Join(root, old), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	c, err := NewCache(root, "v3")
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := c.Put("GET /keep", &Entry{Status: 200, Body: []byte("x")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	removed, err := c.Activate()
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	gens, err := c.Generations()
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	if len(gens) != 1 || gens[0] != "v3" {
		t.Errorf("generations = %v, want [v3]", gens)
	}
	if _, ok := c.Get("GET /keep"); !ok {
		t.Error("current generation entry lost on activate")
	}

	// Idempotent: nothing left to remove.
	removed, err = c.Activate()
	if err != nil || removed != 0 {
		t.Errorf("second activate = %d, %v", removed, err)
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	root := t.TempDir()
	c, err := NewCache(root, "v1")
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := c.Put("GET /x", &Entry{Status: 200, Body: []byte("ok")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Corrupt the file on disk.
	entries, _ := os.ReadDir(filepath.Join(root, "v1"))
	if len(entries) != 1 {
		t.Fatalf("expected one entry file, got %d", len(entries))
	}
	path := filepath.Join(root, "v1", entries[0].Name())
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if _, ok := c.Get("GET /x"); ok {
		t.Error("corrupt entry served as a hit")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt entry not dropped")
	}
}

func TestEmptyGenerationRejected(t *testing.T) {
	if _, err := NewCache(t.TempDir(), ""); err == nil {
		t.Fatal("empty generation name accepted")
	}
}
