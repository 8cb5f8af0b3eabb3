package wcfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/buildservice-client/osc/build"
	"github.com/buildservice-client/osc/wcerr"
)

func TestInitOpenPackage(t *testing.T) {
	root := build.TempDir("wcfs", t.Name())
	opts := InitOptions{Project: "home:test", Package: "widget", APIURL: "https://api.example.com"}
	l, err := Init(root, Package, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := l.ReadProject(); got != "home:test" {
		t.Fatalf("ReadProject = %q", got)
	}
	if got, _ := l.ReadPackage(); got != "widget" {
		t.Fatalf("ReadPackage = %q", got)
	}
	if got, _ := l.ReadAPIURL(); got != "https://api.example.com" {
		t.Fatalf("ReadAPIURL = %q", got)
	}
	if err := l.CheckVersion(); err != nil {
		t.Fatalf("freshly initialized version should pass: %v", err)
	}

	l2, err := Open(root, Package)
	if err != nil {
		t.Fatalf("Open on a freshly initialized layout failed: %v", err)
	}
	if l2.ManifestFile() != l.ManifestFile() {
		t.Fatal("manifest path mismatch between Init and Open")
	}
}

func TestOpenMissingControlDir(t *testing.T) {
	root := build.TempDir("wcfs", t.Name())
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	_, err := Open(root, Package)
	if _, ok := err.(*wcerr.InconsistentWC); !ok {
		t.Fatalf("expected *wcerr.InconsistentWC, got %v (%T)", err, err)
	}
}

func TestOpenMissingRequiredFile(t *testing.T) {
	root := build.TempDir("wcfs", t.Name())
	l, err := Init(root, Package, InitOptions{Project: "p", Package: "pkg", APIURL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(l.PackageFile()); err != nil {
		t.Fatal(err)
	}
	_, err = Open(root, Package)
	if _, ok := err.(*wcerr.InconsistentWC); !ok {
		t.Fatalf("expected *wcerr.InconsistentWC, got %v (%T)", err, err)
	}
}

func TestCheckVersionTolerance(t *testing.T) {
	root := build.TempDir("wcfs", t.Name())
	l, err := Init(root, Package, InitOptions{Project: "p", Package: "pkg", APIURL: "u"})
	if err != nil {
		t.Fatal(err)
	}

	// A fractional difference between the on-disk version and the
	// implementation's expected version is tolerated: simulate by writing
	// an on-disk version with the same integer part and another fraction.
	if err := writeSmallFile(l.VersionFile(), "1.1"); err != nil {
		t.Fatal(err)
	}
	if err := l.CheckVersion(); err != nil {
		t.Fatalf("same major version should pass: %v", err)
	}

	if err := writeSmallFile(l.VersionFile(), "2.0"); err != nil {
		t.Fatal(err)
	}
	err = l.CheckVersion()
	if _, ok := err.(*wcerr.FormatVersion); !ok {
		t.Fatalf("expected *wcerr.FormatVersion for integer drift, got %v (%T)", err, err)
	}
}

func TestInitExternalStore(t *testing.T) {
	root := build.TempDir("wcfs", t.Name(), "root")
	external := build.TempDir("wcfs", t.Name(), "external")
	l, err := Init(root, Package, InitOptions{
		Project: "p", Package: "pkg", APIURL: "u", ExternalDir: external,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctrlPath := filepath.Join(root, ControlDirName)
	info, err := os.Lstat(ctrlPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("expected control directory to be a symlink for an external store")
	}
	if _, err := l.ReadProject(); err != nil {
		t.Fatalf("reading through the external symlink failed: %v", err)
	}
}

func TestRepairRecreatesMissingMembers(t *testing.T) {
	root := build.TempDir("wcfs", t.Name())
	l, err := Init(root, Package, InitOptions{Project: "p", Package: "pkg", APIURL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(l.ManifestFile()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(l.APIURLFile()); err != nil {
		t.Fatal(err)
	}

	repaired, err := Repair(root, Package, InitOptions{Project: "p", Package: "pkg", APIURL: "https://new"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(repaired.ManifestFile()); err != nil {
		t.Fatalf("Repair did not recreate the manifest: %v", err)
	}
	if got, _ := repaired.ReadAPIURL(); got != "https://new" {
		t.Fatalf("Repair did not recreate _apiurl with the supplied value, got %q", got)
	}
	if got, _ := repaired.ReadProject(); got != "p" {
		t.Fatalf("Repair should leave an already-consistent _project untouched, got %q", got)
	}

	if _, err := Open(root, Package); err != nil {
		t.Fatalf("repaired layout should now open cleanly: %v", err)
	}
}

func TestTransactionAndDiffPaths(t *testing.T) {
	root := build.TempDir("wcfs", t.Name())
	l, err := Init(root, Package, InitOptions{Project: "p", Package: "pkg", APIURL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if l.HasTransaction() {
		t.Fatal("freshly initialized layout should have no transaction")
	}
	if err := os.MkdirAll(l.TransactionDataDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeSmallFile(l.TransactionStateFile(), "<state/>"); err != nil {
		t.Fatal(err)
	}
	if !l.HasTransaction() {
		t.Fatal("expected HasTransaction to report true once the state file exists")
	}

	diffDir := l.DiffDir("abcd1234")
	if filepath.Base(diffDir) != "abcd1234" {
		t.Fatalf("DiffDir should be namespaced by srcmd5, got %q", diffDir)
	}
}
