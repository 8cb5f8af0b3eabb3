package diffengine

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/buildservice-client/osc/planner"
	"github.com/buildservice-client/osc/remote"
	"github.com/buildservice-client/osc/remote/remotetest"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcfs"
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

func initPackage(t *testing.T, srv *remotetest.Server, client *remote.Client, project, pkgName string) *wc.Package {
	t.Helper()
	root := t.TempDir()
	p, err := wc.Init(root, wcfs.InitOptions{Project: project, Package: pkgName, APIURL: srv.URL()}, client)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

type staticSkip struct{ names []string }

func (s staticSkip) Skip(*planner.UpdatePlan) (skip, unskip []string) { return s.names, nil }

func TestDiffAgainstPristineModified(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("line1\nline2\n")), Size: 12, Data: []byte("line1\nline2\n")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(wc.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.FilePath("a.c"), []byte("line1\nCHANGED\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := Diff(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	if !strings.Contains(text, "Index: a.c") {
		t.Fatalf("missing index header:\n%s", text)
	}
	if !strings.Contains(text, "-line2") || !strings.Contains(text, "+CHANGED") {
		t.Fatalf("expected a line-level hunk:\n%s", text)
	}
}

func TestDiffAgainstPristineAddedFile(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(wc.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.FilePath("new.c"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Add("new.c"); err != nil {
		t.Fatal(err)
	}

	out, err := Diff(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	if !strings.Contains(text, "@@ -0,0 +1,1 @@") {
		t.Fatalf("expected synthetic added-file header:\n%s", text)
	}
	if !strings.Contains(text, "+hello") {
		t.Fatalf("expected added content:\n%s", text)
	}
}

func TestDiffAgainstPristineBinaryFile(t *testing.T) {
	srv, client := startServer(t)
	bin := append([]byte("header"), 0x00, 0x01)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"blob.bin": {MD5: hashOf(bin), Size: int64(len(bin)), Data: bin},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(wc.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	changed := append([]byte("header"), 0x00, 0x02)
	if err := os.WriteFile(p.FilePath("blob.bin"), changed, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := Diff(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	if !strings.Contains(text, `Binary file "blob.bin" has changed.`) {
		t.Fatalf("expected binary placeholder:\n%s", text)
	}
}

func TestDiffAgainstPristineSkippedFile(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("hi")), Size: 2, Data: []byte("hi")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(wc.UpdateOptions{SkipHandlers: []planner.FileSkipHandler{staticSkip{names: []string{"a.c"}}}}); err != nil {
		t.Fatal(err)
	}

	out, err := Diff(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	if !strings.Contains(text, `File "a.c" is skipped.`) {
		t.Fatalf("expected skipped placeholder:\n%s", text)
	}
}

func TestDiffAgainstRevisionSwapsAddedAndDeleted(t *testing.T) {
	srv, client := startServer(t)
	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("v1")), Size: 2, Data: []byte("v1")},
	})
	p := initPackage(t, srv, client, "proj", "pkg1")
	if err := p.Update(wc.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	// Capture the revision the WC is currently synced to, then move the
	// server forward to a new a.c and add a local-only file, so a diff
	// against the old revision has a name that exists only locally.
	oldManifest, err := client.GetPackageManifest("proj", "pkg1", "", false)
	if err != nil {
		t.Fatal(err)
	}
	oldRev := oldManifest.SrcMD5

	srv.AddPackage("proj", "pkg1", map[string]remotetest.File{
		"a.c": {MD5: hashOf([]byte("v2")), Size: 2, Data: []byte("v2")},
	})

	if err := os.WriteFile(p.FilePath("local.c"), []byte("only here\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Add("local.c"); err != nil {
		t.Fatal(err)
	}

	out, err := Diff(p, Options{Revision: oldRev})
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	// local.c exists only locally relative to the pinned old revision,
	// so after the remote->local swap it reads as newly added.
	if !strings.Contains(text, "Index: local.c") || !strings.Contains(text, "@@ -0,0 +1,1 @@") {
		t.Fatalf("expected local.c rendered as added:\n%s", text)
	}
}
