// Package project implements the project aggregator (spec §4.10): the
// same update/commit machinery as package wc, one level up, over package
// names instead of file names. A project WC tracks which packages it
// knows about in a *tracker.PackageTracker (the project's _packages
// manifest) and, for each package present both locally and remotely,
// holds a nested package WC whose control directory lives inside the
// project's own control directory (spec's "control dir lives in the
// project's per-package data area, symlinked back").
//
// There is no direct project/package nesting analog in the teacher; this
// package is built fresh from the specification, reusing wc's
// transaction machinery (package txn) and wclock's scoped-lock
// discipline for the project's own crash-recoverable state machine, the
// same way osc2/wc/project.py layers ProjectUpdateStateMachine over
// wc/package.py's machinery without duplicating it.
package project

import (
	"os"
	"path/filepath"

	"github.com/buildservice-client/osc/persist"
	"github.com/buildservice-client/osc/remote"
	"github.com/buildservice-client/osc/tracker"
	"github.com/buildservice-client/osc/wc"
	"github.com/buildservice-client/osc/wcerr"
	"github.com/buildservice-client/osc/wcfs"
	"github.com/buildservice-client/osc/wclock"
	"github.com/buildservice-client/osc/wcstate"
)

// Project is a project working copy bound to one on-disk root and one
// remote client.
type Project struct {
	layout  *wcfs.Layout
	lock    *wclock.Lock
	client  *remote.Client
	pt      *tracker.PackageTracker
	log     *persist.Logger
	project string
	apiurl  string
}

// Open opens an existing project WC at root.
func Open(root string, client *remote.Client) (*Project, error) {
	layout, err := wcfs.Open(root, wcfs.Project)
	if err != nil {
		return nil, err
	}
	return fromLayout(layout, client)
}

func fromLayout(layout *wcfs.Layout, client *remote.Client) (*Project, error) {
	pt, err := tracker.OpenPackageTracker(layout.ManifestFile())
	if err != nil {
		return nil, err
	}
	projectName, err := layout.ReadProject()
	if err != nil {
		return nil, err
	}
	apiurl, err := layout.ReadAPIURL()
	if err != nil {
		return nil, err
	}
	log, err := persist.NewLogger(layout.LogFile())
	if err != nil {
		return nil, err
	}
	return &Project{
		layout:  layout,
		lock:    wclock.New(layout.LockFile()),
		client:  client,
		pt:      pt,
		log:     log,
		project: projectName,
		apiurl:  apiurl,
	}, nil
}

// Close releases this project's resources, flushing a SHUTDOWN marker to
// its log.
func (pr *Project) Close() error {
	return pr.log.Close()
}

// Init creates a brand-new project WC at root and opens it.
func Init(root string, opts wcfs.InitOptions, client *remote.Client) (*Project, error) {
	layout, err := wcfs.Init(root, wcfs.Project, opts)
	if err != nil {
		return nil, err
	}
	return fromLayout(layout, client)
}

// Repair reconstructs a minimally-consistent control directory and opens
// it, the project-level counterpart of wc.Repair.
func Repair(root string, opts wcfs.InitOptions, client *remote.Client) (*Project, error) {
	layout, err := wcfs.Repair(root, wcfs.Project, opts)
	if err != nil {
		return nil, err
	}
	return fromLayout(layout, client)
}

// packagePath is the working directory a nested package WC lives in.
func (pr *Project) packagePath(name string) string {
	return filepath.Join(pr.layout.Root(), name)
}

// packageExternalDir is where a nested package's control directory
// actually lives, symlinked back from packagePath(name)/.osc (spec's
// "initialise an empty package WC... symlinked back").
func (pr *Project) packageExternalDir(name string) string {
	return pr.layout.DataPath(name)
}

// Packages lists every package name this project currently tracks.
func (pr *Project) Packages() []string {
	entries := pr.pt.Iter()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// PackageState reports the tracked state of one package name, or
// wcstate.Unknown if it is not tracked.
func (pr *Project) PackageState(name string) wcstate.EntryState {
	e := pr.pt.Find(name)
	if e == nil {
		return wcstate.Unknown
	}
	return e.State
}

// OpenPackage opens the nested package WC for an already-tracked,
// already-materialized package name.
func (pr *Project) OpenPackage(name string) (*wc.Package, error) {
	if pr.pt.Find(name) == nil {
		return nil, &wcerr.ValueError{Op: "project.OpenPackage", Reason: "not tracked: " + name}
	}
	return wc.Open(pr.packagePath(name), pr.client)
}

// AddPackage creates a brand-new package working copy at name, not yet
// known to the server, and tracks it as locally added. The caller adds
// files into the returned Package and commits the project afterwards to
// create the package remotely (spec §4.10's "added" bucket, local-
// initiated direction).
func (pr *Project) AddPackage(name string) (*wc.Package, error) {
	var created *wc.Package
	err := pr.lock.With(func() error {
		if pr.pt.Find(name) != nil {
			return &wcerr.ValueError{Op: "project.AddPackage", Reason: "already tracked: " + name}
		}
		pkg, err := wc.Init(pr.packagePath(name), wcfs.InitOptions{
			Project:     pr.project,
			Package:     name,
			APIURL:      pr.apiurl,
			ExternalDir: pr.packageExternalDir(name),
		}, pr.client)
		if err != nil {
			return err
		}
		if err := pr.pt.Add(name, wcstate.Added); err != nil {
			return err
		}
		if err := pr.pt.Write(); err != nil {
			return err
		}
		created = pkg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RemovePackage untracks name. A package that was only ever locally
// added is deleted outright, since the server never saw it; a package
// that already exists remotely is marked for deletion on the next
// commit, its working directory left in place until then.
func (pr *Project) RemovePackage(name string) error {
	return pr.lock.With(func() error {
		e := pr.pt.Find(name)
		if e == nil {
			return &wcerr.ValueError{Op: "project.RemovePackage", Reason: "not tracked: " + name}
		}
		if e.State == wcstate.Added {
			if err := os.RemoveAll(pr.packagePath(name)); err != nil {
				return err
			}
			if err := os.RemoveAll(pr.packageExternalDir(name)); err != nil {
				return err
			}
			if err := pr.pt.Remove(name); err != nil {
				return err
			}
			return pr.pt.Write()
		}
		if err := pr.pt.Set(name, wcstate.Deleted); err != nil {
			return err
		}
		return pr.pt.Write()
	})
}

// isPackageUpdateable reports whether name's own package WC is safe for
// the project-level state machine to touch: it must carry no pending
// transaction that has already passed its point of no return (a commit
// that the server has accepted but not yet applied locally, or an
// update whose UPDATING phase has partially applied), and no unresolved
// file conflicts (spec §4.10's is_updateable conflict rule).
func isPackageUpdateable(pkgRoot string, client *remote.Client) (bool, error) {
	pkg, err := wc.Open(pkgRoot, client)
	if err != nil {
		return false, err
	}
	defer pkg.Close()
	if ok, err := pkg.IsUpdateable(); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	return true, nil
}

func packageExists(root string) bool {
	_, err := os.Stat(root)
	return err == nil
}
