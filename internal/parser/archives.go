package parser

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RemoteArchive describes one public web archive that captures may be
// sourced from.
type RemoteArchive struct {
	Name         string   `yaml:"name"`
	ReplayPrefix string   `yaml:"replay_prefix"`
	Prefixes     []string `yaml:"prefixes"`
}

type archivesFile struct {
	Archives map[string]RemoteArchive `yaml:"webarchives"`
}

type archivePrefix struct {
	id     string
	prefix string
}

// ArchiveIndex resolves source URIs against the replay prefixes of known
// remote archives. The longest matching prefix wins.
type ArchiveIndex struct {
	prefixes []archivePrefix
}

// LoadArchiveIndex reads a webarchives YAML file.
func LoadArchiveIndex(path string) (*ArchiveIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read remote archives file: %w", err)
	}
	return ParseArchiveIndex(data)
}

// ParseArchiveIndex builds an index from YAML of the form
//
//	webarchives:
//	  ia:
//	    name: Internet Archive
//	    replay_prefix: https://web.archive.org/web/
func ParseArchiveIndex(data []byte) (*ArchiveIndex, error) {
	var file archivesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse remote archives: %w", err)
	}
	idx := &ArchiveIndex{}
	for id, archive := range file.Archives {
		for _, prefix := range append([]string{archive.ReplayPrefix}, archive.Prefixes...) {
			if prefix = stripScheme(prefix); prefix != "" {
				idx.prefixes = append(idx.prefixes, archivePrefix{id: id, prefix: prefix})
			}
		}
	}
	sort.Slice(idx.prefixes, func(i, j int) bool {
		if len(idx.prefixes[i].prefix) != len(idx.prefixes[j].prefix) {
			return len(idx.prefixes[i].prefix) > len(idx.prefixes[j].prefix)
		}
		return idx.prefixes[i].id < idx.prefixes[j].id
	})
	return idx, nil
}

// FindArchiveForURL returns the id of the archive whose prefix matches uri.
func (a *ArchiveIndex) FindArchiveForURL(uri string) (string, bool) {
	if a == nil {
		return "", false
	}
	target := stripScheme(uri)
	for _, p := range a.prefixes {
		if strings.HasPrefix(target, p.prefix) {
			return p.id, true
		}
	}
	return "", false
}

// Len returns the number of known prefixes.
func (a *ArchiveIndex) Len() int {
	return len(a.prefixes)
}

func stripScheme(u string) string {
	u = strings.TrimSpace(u)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(u, scheme) {
			return u[len(scheme):]
		}
	}
	return u
}

// NewWithArchives returns a Parser resolving remote references through the
// rules file at path. An empty path disables resolution.
func NewWithArchives(path string) (*Parser, error) {
	if path == "" {
		return New(nil), nil
	}
	idx, err := LoadArchiveIndex(path)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded remote archive rules", "path", path, "prefixes", idx.Len())
	return New(idx), nil
}
