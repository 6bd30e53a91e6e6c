package stem

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned when an input carries no recognized stem at all.
var ErrEmpty = errors.New("stem: empty manifest")

// Manifest maps stem names to their audio source locators, either local
// file paths or http(s) URLs.
type Manifest struct {
	Title string
	Paths map[Name]string
}

// Stems returns the manifest's stems in canonical order.
func (m Manifest) Stems() []Name {
	out := make([]Name, 0, len(m.Paths))
	for _, n := range Order {
		if _, ok := m.Paths[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// ParseJSON parses the flat attribute form {"vocals": "...", ...}.
// Unknown keys are dropped.
func ParseJSON(data []byte) (Manifest, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("stem manifest: %w", err)
	}
	return fromMap("", raw)
}

type manifestFile struct {
	Title string            `yaml:"title"`
	Stems map[string]string `yaml:"stems"`
}

// LoadYAML reads a manifest file:
//
//	title: Some Song
//	stems:
//	  vocals: stems/vocals.wav
//	  drums: stems/drums.wav
func LoadYAML(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return Manifest{}, fmt.Errorf("stem manifest %s: %w", path, err)
	}
	m, err := fromMap(mf.Title, mf.Stems)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// audio file extensions accepted by FromDir
var dirExts = []string{".wav", ".flac", ".mp3", ".ogg", ".oga"}

// FromDir builds a manifest out of a directory holding one <stem>.<ext>
// file per stem, the layout the separation service writes.
func FromDir(dir string) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Manifest{}, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	paths := make(map[string]string)
	for _, n := range Order {
		for _, file := range names {
			ext := strings.ToLower(filepath.Ext(file))
			base := strings.TrimSuffix(file, filepath.Ext(file))
			if base != string(n) || !slices.Contains(dirExts, ext) {
				continue
			}
			if _, dup := paths[string(n)]; !dup {
				paths[string(n)] = filepath.Join(dir, file)
			}
		}
	}
	m, err := fromMap(filepath.Base(dir), paths)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", dir, err)
	}
	return m, nil
}

func fromMap(title string, raw map[string]string) (Manifest, error) {
	m := Manifest{Title: title, Paths: make(map[Name]string)}
	for k, v := range raw {
		n, err := Parse(k)
		if err != nil {
			continue
		}
		if v != "" {
			m.Paths[n] = v
		}
	}
	if len(m.Paths) == 0 {
		return Manifest{}, ErrEmpty
	}
	return m, nil
}
