package remote

import (
	"sort"
	"testing"

	"github.com/buildservice-client/osc/remote/remotetest"
)

func startServer(t *testing.T) (*remotetest.Server, *Client) {
	t.Helper()
	srv, err := remotetest.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	c := NewClient(srv.URL(), "tester", "")
	t.Cleanup(func() { c.Close() })
	return srv, c
}

func TestGetProjectManifest(t *testing.T) {
	srv, c := startServer(t)
	srv.AddPackage("myproj", "pkgA", map[string]remotetest.File{
		"a.c": {MD5: "aaa", Size: 3, Data: []byte("aaa")},
	})
	srv.AddPackage("myproj", "pkgB", map[string]remotetest.File{
		"b.c": {MD5: "bbb", Size: 3, Data: []byte("bbb")},
	})

	names, err := c.GetProjectManifest("myproj")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "pkgA" || names[1] != "pkgB" {
		t.Fatalf("names = %v", names)
	}
}

func TestGetPackageManifestAndFile(t *testing.T) {
	srv, c := startServer(t)
	srv.AddPackage("myproj", "pkgA", map[string]remotetest.File{
		"a.c": {MD5: "d41d8cd98f00b204e9800998ecf8427e", Size: 0, Data: []byte("")},
		"b.c": {MD5: "098f6bcd4621d373cade4e832627b4f6", Size: 4, Data: []byte("test")},
	})

	pm, err := c.GetPackageManifest("myproj", "pkgA", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(pm.Entries) != 2 {
		t.Fatalf("entries = %v", pm.Entries)
	}

	data, err := c.GetFile("myproj", "pkgA", "b.c", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "test" {
		t.Fatalf("file data = %q", data)
	}
}

func TestCommitFileListMissingThenAccepted(t *testing.T) {
	srv, c := startServer(t)
	srv.AddPackage("myproj", "pkgA", map[string]remotetest.File{})

	entries := []FileEntry{{Name: "new.c", MD5: "5d41402abc4b2a76b9719d911017c592"}}
	res, err := c.CommitFileList("myproj", "pkgA", entries, CommitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted {
		t.Fatal("expected missing response before the blob is staged")
	}
	if len(res.Missing) != 1 || res.Missing[0] != "new.c" {
		t.Fatalf("Missing = %v", res.Missing)
	}

	if err := c.PutFile("myproj", "pkgA", "new.c", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	res, err = c.CommitFileList("myproj", "pkgA", entries, CommitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Accepted {
		t.Fatalf("expected commit to be accepted once the blob was staged, got Missing=%v", res.Missing)
	}
	if res.Rev == "" || res.SrcMD5 == "" {
		t.Fatal("accepted commit should report a new rev/srcmd5")
	}
}

func TestDeletePackage(t *testing.T) {
	srv, c := startServer(t)
	srv.AddPackage("myproj", "pkgA", map[string]remotetest.File{
		"a.c": {MD5: "aaa"},
	})
	if err := c.DeletePackage("myproj", "pkgA"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetPackageManifest("myproj", "pkgA", "", false); err == nil {
		t.Fatal("expected an error fetching a deleted package")
	}
}

func TestPutMeta(t *testing.T) {
	_, c := startServer(t)
	if err := c.PutMeta("myproj", "", []byte("<project name=\"myproj\"/>")); err != nil {
		t.Fatal(err)
	}
	if err := c.PutMeta("myproj", "pkgA", []byte("<package name=\"pkgA\"/>")); err != nil {
		t.Fatal(err)
	}
}

func TestClientRejectsAfterClose(t *testing.T) {
	srv, c := startServer(t)
	srv.AddPackage("myproj", "pkgA", map[string]remotetest.File{})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetProjectManifest("myproj"); err == nil {
		t.Fatal("expected an error after Close")
	}
}
