package importer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/index"
)

const temporaryCollectionTitle = "Temporary Collection"

// Indexer indexes archive files that stay where they are on disk.
type Indexer interface {
	AddArchiveFile(ctx context.Context, path string, params index.Params) error
	AddRange(ctx context.Context, r io.ReadSeeker, params index.Params, filename string, length int64) (int, error)
}

// LocalStrategy indexes segments in place, one file after another, into a
// single collection created up front.
type LocalStrategy struct {
	indexer    Indexer
	uploadID   string
	collection catalog.Collection
	defaults   domain.SegmentDescriptor
}

// NewLocalStrategy creates the run's collection for user from the upload
// collection defaults. An empty uploadID gets a generated one.
func NewLocalStrategy(ctx context.Context, user catalog.User, indexer Indexer, uploadID, collName string, defaults domain.SegmentDescriptor) (*LocalStrategy, error) {
	if uploadID == "" {
		uploadID = uuid.NewString()
	}
	coll, err := user.CreateCollection(ctx, catalog.CollectionSpec{
		Name:        collName,
		Title:       defaults.Title,
		Description: defaults.Description,
		Public:      defaults.Public,
		AllowDupe:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create upload collection: %w", err)
	}
	return &LocalStrategy{indexer: indexer, uploadID: uploadID, collection: coll, defaults: defaults}, nil
}

// Collection returns the collection every segment of the run lands in.
func (l *LocalStrategy) Collection() catalog.Collection { return l.collection }

func (l *LocalStrategy) Name() string         { return "local" }
func (l *LocalStrategy) PaddingWeight() int64 { return 1 }
func (l *LocalStrategy) Background() bool     { return false }
func (l *LocalStrategy) UploadID() string     { return l.uploadID }

func (l *LocalStrategy) CheckCapacity(context.Context, catalog.User, int64) error {
	return nil
}

func (l *LocalStrategy) TransferSegment(ctx context.Context, t SegmentTransfer) error {
	if _, err := t.Source.Seek(t.Offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to segment: %w", err)
	}
	params := index.Params{
		User:       t.User,
		Collection: t.Collection.ID(),
		Recording:  t.Recording.ID(),
		UploadKey:  t.UploadKey,
	}
	path := t.Source.Name()
	if err := l.indexer.AddArchiveFile(ctx, path, params); err != nil {
		return err
	}
	_, err := l.indexer.AddRange(ctx, t.Source, params, path, t.Length)
	return err
}

// MakeCollection retitles the run's collection from the segment metadata.
func (l *LocalStrategy) MakeCollection(ctx context.Context, _ catalog.User, filename string, info domain.SegmentDescriptor) (catalog.Collection, error) {
	title, desc := info.Title, info.Description
	if title == temporaryCollectionTitle {
		title = "Collection"
		if desc == "" {
			desc = l.defaults.Description
		}
	}
	desc = strings.ReplaceAll(desc, "{filename}", filename)
	if err := l.collection.SetProperty(ctx, "title", title); err != nil {
		return nil, err
	}
	if err := l.collection.SetProperty(ctx, "desc", desc); err != nil {
		return nil, err
	}
	return l.collection, nil
}
