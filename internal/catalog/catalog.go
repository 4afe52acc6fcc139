// Package catalog declares the user, collection and recording collaborators
// the importer works against, and provides a Redis-backed implementation.
package catalog

import (
	"context"
	"regexp"
	"strings"

	"github.com/jonno85/warc-ingest/internal/domain"
)

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name        string
	Title       string
	Description string
	Public      bool
	// AllowDupe picks a free name by suffixing instead of failing on a clash.
	AllowDupe bool
}

// RecordingSpec describes a recording to create.
type RecordingSpec struct {
	Title          string
	Description    string
	RecType        string
	RemoteArchives []string
}

// Directory looks up users by name.
type Directory interface {
	User(name string) User
}

// User owns collections and a storage quota.
type User interface {
	Name() string
	RemainingSpace(ctx context.Context) (int64, error)
	HasCollection(ctx context.Context, name string) (bool, error)
	CollectionByName(ctx context.Context, name string) (Collection, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) (Collection, error)
}

// Collection groups recordings.
type Collection interface {
	ID() string
	Name() string
	Property(ctx context.Context, key string) (string, error)
	SetProperty(ctx context.Context, key, value string) error
	CreateRecording(ctx context.Context, spec RecordingSpec) (Recording, error)
}

// Recording is one imported session of captures.
type Recording interface {
	ID() string
	SetProperty(ctx context.Context, key, value string) error
	ImportPages(ctx context.Context, pages []domain.PageEntry) error
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeTitle turns a title into a URL-safe collection name.
func SanitizeTitle(title string) string {
	name := nonSlug.ReplaceAllString(strings.ToLower(title), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return "collection"
	}
	return name
}
