package store

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// BundleEntries is the fixed order of files inside the output bundle.
var BundleEntries = []string{AggregatedFile, ConsolidatedFile, RegistryFile}

// Package zips the output tables into dir/bundleName and returns the bundle
// path. Every entry must exist. Entries carry no timestamps so identical
// tables produce identical bundles.
func (s *TableStore) Package(bundleName string) (string, error) {
	if bundleName == "" {
		bundleName = DefaultBundleName
	}
	for _, name := range BundleEntries {
		if _, err := os.Stat(s.Path(name)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(ErrMissingOutput, s.Path(name))
			}
			return "", eris.Wrapf(err, "store: stat %s", name)
		}
	}

	tmp, err := os.CreateTemp(s.dir, "."+bundleName+".*")
	if err != nil {
		return "", eris.Wrapf(err, "store: create temp for %s", bundleName)
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	for _, name := range BundleEntries {
		if err := addEntry(zw, s.Path(name), name); err != nil {
			zw.Close()
			tmp.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return "", eris.Wrapf(err, "store: finish %s", bundleName)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "store: close %s", bundleName)
	}

	path := filepath.Join(s.dir, bundleName)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", eris.Wrapf(err, "store: replace %s", path)
	}
	return path, nil
}

func addEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "store: open %s", path)
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return eris.Wrapf(err, "store: add %s", name)
	}
	if _, err := io.Copy(w, f); err != nil {
		return eris.Wrapf(err, "store: copy %s", name)
	}
	return nil
}
