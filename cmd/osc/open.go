package main

import (
	"os"

	"github.com/buildservice-client/osc/project"
	"github.com/buildservice-client/osc/remote"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcfs"
)

// clientForOpen builds a remote client from the current directory's own
// _apiurl meta file, so an already-checked-out command doesn't need
// --apiurl repeated on every invocation.
func clientForOpen(root string) *remote.Client {
	data, err := os.ReadFile(root + "/" + wcfs.ControlDirName + "/_apiurl")
	url := apiurl
	if err == nil {
		url = trimNewline(string(data))
	}
	if url == "" {
		die("no API URL configured; pass --apiurl")
	}
	return remote.NewClient(url, user, resolvePassword())
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// openPackageHere opens the package WC rooted at the current directory.
func openPackageHere() *wc.Package {
	root, err := os.Getwd()
	if err != nil {
		die(err)
	}
	p, err := wc.Open(root, clientForOpen(root))
	if err != nil {
		die(err)
	}
	return p
}

// openProjectHere opens the project WC rooted at the current directory.
func openProjectHere() *project.Project {
	root, err := os.Getwd()
	if err != nil {
		die(err)
	}
	pr, err := project.Open(root, clientForOpen(root))
	if err != nil {
		die(err)
	}
	return pr
}

// detectKindHere reports whether the current directory is a package or
// a project working copy.
func detectKindHere() wcfs.Kind {
	root, err := os.Getwd()
	if err != nil {
		die(err)
	}
	kind, err := wcfs.DetectKind(root)
	if err != nil {
		die(err)
	}
	return kind
}
