package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/transcode"
)

// ErrEmptyBatch is returned by IngestMany when given no files.
var ErrEmptyBatch = errors.New("no files to ingest")

type batchFile struct {
	path string
	size int64
}

// IngestMany ingests files on disk as one job. The job's budget is the sum
// of the file sizes; each file is credited in full whether or not it could be
// ingested, so the job always reaches its total.
func (o *Orchestrator) IngestMany(ctx context.Context, userName string, paths []string) (Result, error) {
	if len(paths) == 0 {
		return Result{}, ErrEmptyBatch
	}
	files := make([]batchFile, 0, len(paths))
	var budget int64
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return Result{}, fmt.Errorf("stat %s: %w", path, err)
		}
		files = append(files, batchFile{path: path, size: info.Size()})
		budget += info.Size()
	}

	user := o.users.User(userName)
	uploadID, key, err := o.BeginUpload(ctx, user, budget, len(files), "")
	if err != nil {
		return Result{}, err
	}
	slog.Info("Batch upload started", "user", userName, "uploadID", uploadID, "files", len(files), "budget", budget)

	bg := context.WithoutCancel(ctx)
	for _, f := range files {
		if o.strategy.Background() {
			o.launch(func() { o.ingestFile(bg, user, key, f) })
		} else {
			o.ingestFile(bg, user, key, f)
		}
	}
	return Result{UploadID: uploadID, User: userName}, nil
}

func (o *Orchestrator) ingestFile(ctx context.Context, user catalog.User, key string, f batchFile) {
	remaining := f.size
	fail := func(err error) {
		slog.Error("Failed to ingest file", "key", key, "file", f.path, "err", err)
		o.abandon(ctx, key, remaining)
	}

	if err := o.progress.SetFilename(ctx, key, f.path); err != nil {
		slog.Warn("Failed to record current file", "key", key, "file", f.path, "err", err)
	}

	fh, err := os.Open(f.path)
	if err != nil {
		fail(err)
		return
	}
	src := &source{file: fh, size: f.size}

	if transcode.IsHAR(f.path) {
		conv, convSize, err := transcode.ConvertToFile(o.opts.SpoolDir, fh, f.path)
		fh.Close()
		if err != nil {
			fail(err)
			return
		}
		// Segments are measured in converted bytes; the difference keeps the
		// batch total on the on-disk size.
		o.credit(ctx, key, (f.size-convSize)*o.strategy.PaddingWeight())
		remaining = convSize
		src = &source{file: conv, size: convSize, temp: true, retain: o.opts.RetainSpool}
	}

	src.segments, err = o.parser.Parse(src.file, src.size)
	if err == nil {
		_, err = src.file.Seek(0, io.SeekStart)
	}
	if err == nil && countRecordings(src.segments) == 0 {
		err = domain.ErrNoArchiveData
	}
	if err != nil {
		src.close()
		fail(err)
		return
	}

	u, err := o.prepare(ctx, user, "", key, f.path, src)
	if err != nil {
		src.close()
		fail(err)
		return
	}
	o.runTransfer(ctx, u)
}
