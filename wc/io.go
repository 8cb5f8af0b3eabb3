package wc

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/buildservice-client/osc/persist"
)

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0644)
}

// moveFile moves src to dst, falling back to copy+remove if they are not
// on the same filesystem (e.g. an external-store control directory).
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// replacePristine copies src's content into the pristine cache at dst via
// a temp-file-then-rename (persist.SafeFile), so a reader opening dst mid-
// write never sees a torn file.
func replacePristine(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	sf, err := persist.NewSafeFile(dst)
	if err != nil {
		return err
	}
	defer sf.Close()
	if _, err := io.Copy(sf, in); err != nil {
		return err
	}
	return sf.CommitSync()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// removeIgnoreNotExist removes path, treating an already-absent file as
// success (the common case when a deleted entry's working copy was already
// cleaned up by a prior, interrupted attempt at this same loop).
func removeIgnoreNotExist(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
