package wc

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"testing"

	"github.com/buildservice-client/osc/remote"
	"github.com/buildservice-client/osc/remote/remotetest"
	"github.com/buildservice-client/osc/txn"
	"github.com/buildservice-client/osc/wcfs"
	"github.com/buildservice-client/osc/wcstate"
)

func hashOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func startServer(t *testing.T) (*remotetest.Server, *remote.Client) {
	t.Helper()
	srv, err := remotetest.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	c := remote.NewClient(srv.URL(), "tester", "")
	t.Cleanup(func() { c.Close() })
	return srv, c
}

func initPackage(t *testing.T, srv *remotetest.Server, client *remote.Client, project, pkgName string) *Package {
	t.Helper()
	root := t.TempDir()
	p, err := Init(root, wcfs.InitOptions{Project: project, Package: pkgName, APIURL: srv.URL()}, client)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestUpdateDownloadsFiles(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("hello")), Size: 5, Data: []byte("hello")},
	})

	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(p.workPath("a.c"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("a.c content = %q", data)
	}
	st, err := p.Status("a.c")
	if err != nil {
		t.Fatal(err)
	}
	if st != wcstate.Normal {
		t.Fatalf("status = %v", st)
	}
}

func TestAddAndCommitNewFile(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("hello")), Size: 5, Data: []byte("hello")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(p.workPath("b.c"), []byte("world"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Add("b.c"); err != nil {
		t.Fatal(err)
	}
	st, err := p.Status("b.c")
	if err != nil {
		t.Fatal(err)
	}
	if st != wcstate.Added {
		t.Fatalf("status before commit = %v", st)
	}

	if err := p.Commit(CommitOptions{Comment: "add b.c"}); err != nil {
		t.Fatal(err)
	}

	st, err = p.Status("b.c")
	if err != nil {
		t.Fatal(err)
	}
	if st != wcstate.Normal {
		t.Fatalf("status after commit = %v", st)
	}

	pm, err := client.GetPackageManifest("proj", "pkg1", "", false)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range pm.Entries {
		if e.Name == "b.c" && e.MD5 == hashOf([]byte("world")) {
			found = true
		}
	}
	if !found {
		t.Fatalf("server manifest missing committed b.c: %+v", pm.Entries)
	}
}

func TestModifyAndCommit(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("hello")), Size: 5, Data: []byte("hello")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(p.workPath("a.c"), []byte("hello there"), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := p.Status("a.c")
	if err != nil {
		t.Fatal(err)
	}
	if st != wcstate.Modified {
		t.Fatalf("status = %v", st)
	}

	if err := p.Commit(CommitOptions{}); err != nil {
		t.Fatal(err)
	}

	pm, err := client.GetPackageManifest("proj", "pkg1", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(pm.Entries) != 1 || pm.Entries[0].MD5 != hashOf([]byte("hello there")) {
		t.Fatalf("server entries after commit = %+v", pm.Entries)
	}
}

func TestRemoveAndCommit(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("hello")), Size: 5, Data: []byte("hello")},
		"b.c": {MD5: hashOf([]byte("world")), Size: 5, Data: []byte("world")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := p.Remove("b.c"); err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(CommitOptions{}); err != nil {
		t.Fatal(err)
	}

	if fileExists(p.workPath("b.c")) {
		t.Fatal("expected b.c to be removed from disk after commit")
	}
	pm, err := client.GetPackageManifest("proj", "pkg1", "", false)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range pm.Entries {
		if e.Name == "b.c" {
			t.Fatal("expected b.c to be absent from the server manifest")
		}
	}
}

func TestRevertDiscardsLocalAdd(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(p.workPath("new.c"), []byte("draft"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Add("new.c"); err != nil {
		t.Fatal(err)
	}
	if err := p.Revert("new.c"); err != nil {
		t.Fatal(err)
	}
	st, err := p.Status("new.c")
	if err != nil {
		t.Fatal(err)
	}
	if st != wcstate.Unknown {
		t.Fatalf("status after revert = %v", st)
	}
}

func TestUpdateConflictAndResolve(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("base")), Size: 4, Data: []byte("base")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	// Someone else commits a change to a.c on the server...
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("remote change")), Size: 13, Data: []byte("remote change")},
	})
	// ...while this working copy makes an incompatible local edit.
	if err := os.WriteFile(p.workPath("a.c"), []byte("local change"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	st, err := p.Status("a.c")
	if err != nil {
		t.Fatal(err)
	}
	if st != wcstate.Conflicted {
		t.Fatalf("status after conflicting update = %v", st)
	}

	// Attempting to commit while conflicted must fail.
	if err := p.Commit(CommitOptions{}); err == nil {
		t.Fatal("expected commit to reject a conflicted entry")
	}

	if err := p.Resolved("a.c"); err != nil {
		t.Fatal(err)
	}
	st, err = p.Status("a.c")
	if err != nil {
		t.Fatal(err)
	}
	if st == wcstate.Conflicted {
		t.Fatal("expected Resolved to clear the conflict state")
	}
}

func TestResumeInterruptedUpdate(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("hello")), Size: 5, Data: []byte("hello")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")

	// Simulate a crash right after the PREPARE phase recorded its plan,
	// before any file was downloaded: hand-craft the leftover transaction
	// record exactly as p.update would have left it, then confirm a fresh
	// Update call resumes and finishes it instead of starting over.
	rec := txn.NewUpdate("1")
	pm, err := client.GetPackageManifest("proj", "pkg1", "", false)
	if err != nil {
		t.Fatal(err)
	}
	rec.SrcMD5 = pm.SrcMD5
	rec.Added = []string{"a.c"}
	rec.Remote = []txn.RemoteEntry{{Name: "a.c", MD5: pm.Entries[0].MD5, Size: pm.Entries[0].Size, Mtime: pm.Entries[0].Mtime}}
	if err := os.MkdirAll(p.layout.TransactionDataDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := rec.Save(p.layout.TransactionStateFile()); err != nil {
		t.Fatal(err)
	}

	if err := p.Update(UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	if fileExists(p.layout.TransactionDir()) {
		t.Fatal("expected the transaction directory to be cleaned up")
	}
	data, err := os.ReadFile(p.workPath("a.c"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("a.c content after resumed update = %q", data)
	}
	st, err := p.Status("a.c")
	if err != nil {
		t.Fatal(err)
	}
	if st != wcstate.Normal {
		t.Fatalf("status = %v", st)
	}
}
