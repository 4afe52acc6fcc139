package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/metrics"
	"github.com/jonno85/warc-ingest/internal/pages"
	"github.com/jonno85/warc-ingest/internal/parser"
	"github.com/jonno85/warc-ingest/internal/progress"
	"github.com/jonno85/warc-ingest/internal/transcode"
)

const defaultWorkers = 4

// Options tune an Orchestrator.
type Options struct {
	// SpoolDir holds spooled uploads and converted HAR files. Empty means os.TempDir.
	SpoolDir string
	// UploadExpire is the TTL given to new progress records. Zero means none.
	UploadExpire time.Duration
	// MaxDetectPages bounds page detection per recording. Zero means unbounded.
	MaxDetectPages int
	// NumWorkers bounds concurrent background file transfers.
	NumWorkers int
	// UploadCollection describes the collection created for recordings that
	// arrive before any collection segment.
	UploadCollection domain.SegmentDescriptor
	// RetainSpool keeps spooled and converted files after transfer, for
	// strategies whose index points back at them.
	RetainSpool bool
}

// Result identifies an accepted job.
type Result struct {
	UploadID string `json:"upload_id"`
	User     string `json:"user"`
}

// Orchestrator runs the import workflow against one transfer strategy.
type Orchestrator struct {
	strategy TransferStrategy
	users    catalog.Directory
	parser   *parser.Parser
	detector *pages.Detector
	progress *progress.Store
	opts     Options

	sem chan struct{}
	wg  sync.WaitGroup
}

// New returns an Orchestrator.
func New(strategy TransferStrategy, users catalog.Directory, p *parser.Parser, detector *pages.Detector, store *progress.Store, opts Options) *Orchestrator {
	workers := opts.NumWorkers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Orchestrator{
		strategy: strategy,
		users:    users,
		parser:   p,
		detector: detector,
		progress: store,
		opts:     opts,
		sem:      make(chan struct{}, workers),
	}
}

// source is a seekable copy of one input file and the segments found in it.
type source struct {
	file     *os.File
	size     int64
	segments []domain.SegmentDescriptor
	temp     bool
	retain   bool
}

func (s *source) close() {
	if s == nil || s.file == nil {
		return
	}
	s.file.Close()
	if s.temp && !s.retain {
		os.Remove(s.file.Name())
	}
}

type recordingJob struct {
	seg  domain.SegmentDescriptor
	coll catalog.Collection
	rec  catalog.Recording
}

type upload struct {
	key      string
	user     string
	filename string
	src      *source
	jobs     []recordingJob
}

// BeginUpload checks capacity and creates the progress record of a job
// expecting budget bytes over files files.
func (o *Orchestrator) BeginUpload(ctx context.Context, user catalog.User, budget int64, files int, filename string) (string, string, error) {
	if err := o.strategy.CheckCapacity(ctx, user, budget); err != nil {
		return "", "", err
	}
	return o.begin(ctx, user.Name(), budget, files, filename)
}

func (o *Orchestrator) begin(ctx context.Context, user string, budget int64, files int, filename string) (string, string, error) {
	uploadID := o.strategy.UploadID()
	key := progress.Key(user, uploadID)
	total := budget * o.strategy.PaddingWeight()
	if err := o.progress.Begin(ctx, key, total, files, filename, o.opts.UploadExpire); err != nil {
		return "", "", err
	}
	return uploadID, key, nil
}

// Status returns the progress of an upload.
func (o *Orchestrator) Status(ctx context.Context, user, uploadID string) (domain.UploadProgress, error) {
	return o.progress.Status(ctx, user, uploadID)
}

// IngestOne accepts a single upload of expectedSize bytes. Validation errors
// are returned before the body is read; once the job is accepted, transfer
// continues in the background and progress is reported through the store.
func (o *Orchestrator) IngestOne(ctx context.Context, r io.Reader, expectedSize int64, filename, userName, forceColl string) (Result, error) {
	user := o.users.User(userName)
	slog.Debug("Upload begin", "user", userName, "filename", filename, "expectedSize", expectedSize)

	if err := o.strategy.CheckCapacity(ctx, user, expectedSize); err != nil {
		return Result{}, err
	}
	if forceColl != "" {
		ok, err := user.HasCollection(ctx, forceColl)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, forceColl)
		}
	}

	src, err := o.spool(r, expectedSize, filename)
	if err != nil {
		return Result{}, err
	}
	if countRecordings(src.segments) == 0 {
		src.close()
		return Result{}, domain.ErrNoArchiveData
	}

	uploadID, key, err := o.begin(ctx, userName, src.size, 1, filename)
	if err != nil {
		src.close()
		return Result{}, err
	}
	u, err := o.prepare(ctx, user, forceColl, key, filename, src)
	if err != nil {
		o.abandon(ctx, key, src.size)
		src.close()
		return Result{}, err
	}

	bg := context.WithoutCancel(ctx)
	if o.strategy.Background() {
		o.launch(func() { o.runTransfer(bg, u) })
	} else {
		o.runTransfer(bg, u)
	}
	return Result{UploadID: uploadID, User: userName}, nil
}

// spool copies the upload to a temp file while parsing it, converting HAR
// first. Reading stops one byte past expectedSize so oversized bodies are
// detected without being read in full.
func (o *Orchestrator) spool(r io.Reader, expectedSize int64, filename string) (*source, error) {
	f, err := os.CreateTemp(o.opts.SpoolDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	src := &source{file: f, size: expectedSize, temp: true, retain: o.opts.RetainSpool}
	limited := io.LimitReader(r, expectedSize+1)
	tee := io.TeeReader(limited, f)

	fail := func(err error) (*source, error) {
		src.close()
		return nil, err
	}

	var converted *source
	if transcode.IsHAR(filename) {
		conv, convSize, err := transcode.ConvertToFile(o.opts.SpoolDir, tee, filename)
		if err != nil {
			return fail(err)
		}
		converted = &source{file: conv, size: convSize, temp: true, retain: o.opts.RetainSpool}
	} else {
		src.segments, err = o.parser.Parse(tee, expectedSize)
		if err != nil {
			return fail(fmt.Errorf("parse upload %s: %w", filename, err))
		}
	}

	if _, err := io.Copy(f, limited); err != nil {
		converted.close()
		return fail(fmt.Errorf("spool upload %s: %w", filename, err))
	}
	received, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		converted.close()
		return fail(err)
	}
	if received != expectedSize {
		converted.close()
		return fail(&domain.SizeMismatchError{Expected: expectedSize, Actual: received})
	}

	if converted != nil {
		src.retain = false
		src.close()
		src = converted
		src.segments, err = o.parser.Parse(src.file, src.size)
		if err != nil {
			return fail(fmt.Errorf("parse converted %s: %w", filename, err))
		}
	}
	if _, err := src.file.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	return src, nil
}

// prepare resolves collections and recordings for the parsed segments and
// records the first collection on the progress record.
func (o *Orchestrator) prepare(ctx context.Context, user catalog.User, forceColl, key, filename string, src *source) (*upload, error) {
	first, jobs, err := o.processUpload(ctx, user, forceColl, src.segments, filename)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, domain.ErrNoArchiveData
	}
	title, err := first.Property(ctx, "title")
	if err != nil {
		return nil, err
	}
	if err := o.progress.SetCollection(ctx, key, first.Name(), title, filename, o.opts.UploadExpire); err != nil {
		return nil, err
	}
	return &upload{key: key, user: user.Name(), filename: filename, src: src, jobs: jobs}, nil
}

func (o *Orchestrator) processUpload(ctx context.Context, user catalog.User, forceColl string, segments []domain.SegmentDescriptor, filename string) (catalog.Collection, []recordingJob, error) {
	var (
		first, coll catalog.Collection
		jobs        []recordingJob
		err         error
	)
	if forceColl != "" {
		if coll, err = user.CollectionByName(ctx, forceColl); err != nil {
			return nil, nil, err
		}
	}

	for _, seg := range segments {
		switch seg.Kind {
		case domain.KindCollection:
			if coll == nil {
				if coll, err = o.strategy.MakeCollection(ctx, user, filename, seg); err != nil {
					return nil, nil, err
				}
			}
		case domain.KindRecording:
			if coll == nil {
				if coll, err = o.strategy.MakeCollection(ctx, user, filename, o.opts.UploadCollection); err != nil {
					return nil, nil, err
				}
			}
			rec, err := coll.CreateRecording(ctx, catalog.RecordingSpec{
				Title:          seg.Title,
				Description:    seg.Description,
				RecType:        seg.RecType,
				RemoteArchives: seg.RemoteReferences,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("create recording %q: %w", seg.Title, err)
			}
			if err := setDateProps(ctx, rec, seg); err != nil {
				return nil, nil, err
			}
			jobs = append(jobs, recordingJob{seg: seg, coll: coll, rec: rec})
			slog.Debug("Processing upload recording", "rec", rec.ID(), "count", len(jobs), "filename", filename)
		default:
			slog.Warn("Ignoring segment of unknown type", "type", seg.Kind, "offset", seg.Offset)
		}
		if first == nil {
			first = coll
		}
	}
	return first, jobs, nil
}

type propertySetter interface {
	SetProperty(ctx context.Context, key, value string) error
}

func setDateProps(ctx context.Context, obj propertySetter, seg domain.SegmentDescriptor) error {
	if seg.CreatedAt != nil {
		if err := obj.SetProperty(ctx, "created_at", strconv.FormatInt(*seg.CreatedAt, 10)); err != nil {
			return err
		}
	}
	if seg.UpdatedAt != nil {
		if err := obj.SetProperty(ctx, "updated_at", strconv.FormatInt(*seg.UpdatedAt, 10)); err != nil {
			return err
		}
	}
	return nil
}

func countRecordings(segments []domain.SegmentDescriptor) int {
	n := 0
	for _, s := range segments {
		if s.Kind == domain.KindRecording {
			n++
		}
	}
	return n
}

// runTransfer sends each segment in stream order and credits everything
// else as padding, so the job's size reaches its total even when transfers
// fail.
func (o *Orchestrator) runTransfer(ctx context.Context, u *upload) {
	weight := o.strategy.PaddingWeight()
	var lastEnd int64

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Transfer aborted", "key", u.key, "filename", u.filename, "err", r)
		}
		o.finishFile(ctx, u.key, u.src.size-lastEnd)
		metrics.FilesIngested.WithLabelValues(o.strategy.Name()).Inc()
		u.src.close()
	}()

	for i, job := range u.jobs {
		if job.seg.Offset < lastEnd {
			slog.Warn("Skipping overlapping segment", "key", u.key, "offset", job.seg.Offset, "lastEnd", lastEnd)
			continue
		}
		if gap := job.seg.Offset - lastEnd; gap > 0 {
			o.pad(ctx, u.key, gap)
		}

		if job.seg.Length > 0 {
			slog.Debug("Uploading recording", "key", u.key, "rec", job.rec.ID(), "count", i+1, "of", len(u.jobs))
			err := o.strategy.TransferSegment(ctx, SegmentTransfer{
				UploadKey:  u.key,
				Filename:   u.filename,
				Source:     u.src.file,
				User:       u.user,
				Collection: job.coll,
				Recording:  job.rec,
				Offset:     job.seg.Offset,
				Length:     job.seg.Length,
			})
			if err != nil {
				err = fmt.Errorf("%w: %w", domain.ErrSegmentTransfer, err)
				slog.Error("Failed to transfer recording", "key", u.key, "rec", job.rec.ID(), "offset", job.seg.Offset, "length", job.seg.Length, "err", err)
				metrics.SegmentsTransferredErrors.WithLabelValues(o.strategy.Name()).Inc()
				o.pad(ctx, u.key, job.seg.Length)
			} else {
				o.credit(ctx, u.key, weight*job.seg.Length)
				metrics.SegmentsTransferred.WithLabelValues(o.strategy.Name()).Inc()
				metrics.BytesTransferred.WithLabelValues(o.strategy.Name()).Observe(float64(job.seg.Length))
			}
		} else {
			slog.Debug("Skipping zero-length recording", "key", u.key, "rec", job.rec.ID())
		}
		lastEnd = job.seg.End()

		o.attachPages(ctx, job)
	}
}

func (o *Orchestrator) attachPages(ctx context.Context, job recordingJob) {
	found := job.seg.Pages
	if found == nil {
		detected, err := o.detector.Detect(ctx, job.coll.ID(), job.rec.ID(), o.opts.MaxDetectPages)
		if err != nil {
			slog.Error("Failed to detect pages", "rec", job.rec.ID(), "err", err)
			return
		}
		found = detected
	}
	if len(found) == 0 {
		return
	}
	if err := job.rec.ImportPages(ctx, found); err != nil {
		slog.Error("Failed to import pages", "rec", job.rec.ID(), "err", err)
	}
}

// pad credits n bytes that belong to no transferred segment.
func (o *Orchestrator) pad(ctx context.Context, key string, n int64) {
	units := n * o.strategy.PaddingWeight()
	o.credit(ctx, key, units)
	metrics.PaddingBytes.WithLabelValues(o.strategy.Name()).Add(float64(units))
}

// abandon credits the uncredited remainder of a file that will not be
// transferred and counts the file as finished.
func (o *Orchestrator) abandon(ctx context.Context, key string, remaining int64) {
	metrics.FilesIngestedErrors.WithLabelValues(o.strategy.Name()).Inc()
	o.finishFile(ctx, key, remaining)
}

// finishFile credits the file's uncredited remainder as padding and counts
// the file as finished in one store update.
func (o *Orchestrator) finishFile(ctx context.Context, key string, remaining int64) {
	var units int64
	if remaining > 0 {
		units = remaining * o.strategy.PaddingWeight()
		metrics.PaddingBytes.WithLabelValues(o.strategy.Name()).Add(float64(units))
	}
	if _, err := o.progress.FinishFile(ctx, key, units); err != nil {
		slog.Error("Failed to finish file", "key", key, "err", err)
	}
}

func (o *Orchestrator) credit(ctx context.Context, key string, units int64) {
	if err := o.progress.Credit(ctx, key, units); err != nil {
		slog.Error("Failed to credit upload progress", "key", key, "units", units, "err", err)
	}
}

func (o *Orchestrator) launch(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sem <- struct{}{}
		defer func() { <-o.sem }()
		fn()
	}()
}

// Wait blocks until all background transfers have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
