package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/buildservice-client/osc/build"
)

// TestSaveLoadJSON creates a simple object and then tries saving and loading
// it.
func TestSaveLoadJSON(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	dir := filepath.Join(build.TempDir(persistDir), t.Name())
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		t.Fatal(err)
	}

	testMeta := Metadata{"Test Struct", "1.2.1"}
	type testStruct struct {
		One   string
		Two   uint64
		Three []byte
	}

	obj1 := testStruct{"dog", 25, []byte("more dog")}
	obj1Filename := filepath.Join(dir, "obj1.json")
	err = SaveJSON(testMeta, obj1, obj1Filename)
	if err != nil {
		t.Fatal(err)
	}
	var obj2 testStruct

	err = LoadJSON(testMeta, &obj2, obj1Filename)
	if err != nil {
		t.Fatal(err)
	}
	if obj2.One != obj1.One {
		t.Error("persist mismatch")
	}
	if obj2.Two != obj1.Two {
		t.Error("persist mismatch")
	}
	if !bytes.Equal(obj2.Three, obj1.Three) {
		t.Error("persist mismatch")
	}

	// Loading from an in-flight temp name is always rejected.
	err = LoadJSON(testMeta, &obj2, obj1Filename+tempSuffix)
	if err != ErrBadFilenameSuffix {
		t.Error("did not get bad filename suffix")
	}

	// Saving the object many times concurrently should never corrupt it.
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SaveJSON(testMeta, obj1, obj1Filename)
		}()
	}
	wg.Wait()

	err = LoadJSON(testMeta, &obj2, obj1Filename)
	if err != nil {
		t.Fatal(err)
	}
	if obj2.One != "dog" || obj2.Two != 25 || !bytes.Equal(obj2.Three, []byte("more dog")) {
		t.Error("persist mismatch after concurrent saves")
	}
}

// TestLoadJSONVersionTolerance checks the version-mismatch tolerance rule:
// a fractional difference is fine, an integer difference is a hard error.
func TestLoadJSONVersionTolerance(t *testing.T) {
	dir := filepath.Join(build.TempDir(persistDir), t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	filename := filepath.Join(dir, "obj.json")
	type testStruct struct{ A int }
	obj := testStruct{A: 7}

	if err := SaveJSON(Metadata{"H", "2.0"}, obj, filename); err != nil {
		t.Fatal(err)
	}

	var out testStruct
	if err := LoadJSON(Metadata{"H", "2.9"}, &out, filename); err != nil {
		t.Errorf("expected fractional version drift to be tolerated, got %v", err)
	}
	if err := LoadJSON(Metadata{"H", "3.0"}, &out, filename); err != ErrBadVersion {
		t.Errorf("expected ErrBadVersion for integer drift, got %v", err)
	}
	if err := LoadJSON(Metadata{"Wrong", "2.0"}, &out, filename); err != ErrBadHeader {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
}

// TestLoadJSONCorruptedChecksum checks that a tampered document is rejected.
func TestLoadJSONCorruptedChecksum(t *testing.T) {
	dir := filepath.Join(build.TempDir(persistDir), t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	filename := filepath.Join(dir, "obj.json")
	meta := Metadata{"H", "1.0"}
	type testStruct struct{ A int }
	if err := SaveJSON(meta, testStruct{A: 1}, filename); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(raw, []byte(`"A": 1`), []byte(`"A": 2`), 1)
	if bytes.Equal(tampered, raw) {
		t.Fatal("tamper step had no effect, test is broken")
	}
	if err := os.WriteFile(filename, tampered, 0600); err != nil {
		t.Fatal(err)
	}

	var out testStruct
	if err := LoadJSON(meta, &out, filename); err != ErrBadChecksum {
		t.Errorf("expected ErrBadChecksum, got %v", err)
	}
}
