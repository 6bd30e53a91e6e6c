// Package library finds stem sets on disk and watches for new ones. A
// stem set is a directory holding one audio file per stem, the layout
// the separation service writes.
package library

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/stem"
)

// Entry is one stem set under the library root.
type Entry struct {
	Name     string
	Dir      string
	Manifest stem.Manifest
}

// Library lists the stem sets under a root directory.
type Library struct {
	root string
	log  zerolog.Logger
}

// New creates a library over the given root directory.
func New(root string, log zerolog.Logger) *Library {
	return &Library{
		root: root,
		log:  log.With().Str("component", "library").Logger(),
	}
}

// Root returns the library root directory.
func (l *Library) Root() string { return l.root }

// Scan lists the stem sets under the root, sorted by name. Directories
// without a recognized stem file are skipped.
func (l *Library) Scan() ([]Entry, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(l.root, e.Name())
		m, err := stem.FromDir(dir)
		if err != nil {
			l.log.Debug().Str("dir", dir).Err(err).Msg("skipping non stem-set directory")
			continue
		}
		out = append(out, Entry{Name: e.Name(), Dir: dir, Manifest: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
