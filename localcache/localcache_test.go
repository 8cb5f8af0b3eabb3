package localcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/buildservice-client/osc/build"
)

func TestPutGetDelete(t *testing.T) {
	dir := build.TempDir("localcache", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "cache.db")

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, ok, err := c.Get("https://api.example.org", "proj", "pkg", "srcmd5abc", "a.c"); err != nil || ok {
		t.Fatalf("expected miss on empty cache, got ok=%v err=%v", ok, err)
	}

	if err := c.Put("https://api.example.org", "proj", "pkg", "srcmd5abc", "a.c", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	data, ok, err := c.Get("https://api.example.org", "proj", "pkg", "srcmd5abc", "a.c")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(data) != "hello" {
		t.Fatalf("data = %q, ok = %v", data, ok)
	}

	// A different srcmd5 is a distinct cache entry.
	if _, ok, err := c.Get("https://api.example.org", "proj", "pkg", "srcmd5xyz", "a.c"); err != nil || ok {
		t.Fatalf("expected miss for a different srcmd5, got ok=%v err=%v", ok, err)
	}

	if err := c.Delete("https://api.example.org", "proj", "pkg", "srcmd5abc", "a.c"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get("https://api.example.org", "proj", "pkg", "srcmd5abc", "a.c"); err != nil || ok {
		t.Fatalf("expected miss after delete, got ok=%v err=%v", ok, err)
	}
}

func TestReopenPreservesData(t *testing.T) {
	dir := build.TempDir("localcache", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "cache.db")

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put("api", "p", "k", "s", "f", []byte("data")); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	data, ok, err := c2.Get("api", "p", "k", "s", "f")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(data) != "data" {
		t.Fatalf("data = %q, ok = %v", data, ok)
	}
}
