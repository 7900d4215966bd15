// Package fsutil provides file system utility functions for walking product
// trees.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Walk calls fn for every regular file below root. Hidden directories are not
// entered, and neither is any directory other than root for which stop
// returns true. A nil stop enters everything that is not hidden.
func Walk(root string, stop func(dir string) bool, fn func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || (stop != nil && stop(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(path, d)
	})
}

// FindFiles returns the files below root whose base name satisfies match, as
// sorted slash paths relative to root. Walking follows the rules of Walk.
func FindFiles(root string, match func(name string) bool, stop func(dir string) bool) ([]string, error) {
	var files []string
	err := Walk(root, stop, func(path string, d fs.DirEntry) error {
		if !match(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// FindDirsContaining returns the directories below root, root excluded, that
// hold a file called name. The result is sorted slash paths relative to root.
func FindDirsContaining(root, name string) ([]string, error) {
	var dirs []string
	err := Walk(root, nil, func(path string, d fs.DirEntry) error {
		if d.Name() != name {
			return nil
		}
		dir := filepath.Dir(path)
		if dir == root {
			return nil
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		dirs = append(dirs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}

// HasFile reports whether dir holds a regular file called name.
func HasFile(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, name))
	return err == nil && info.Mode().IsRegular()
}
