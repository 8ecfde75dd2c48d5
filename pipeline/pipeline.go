package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xeptore/tunedl/acquire"
	"github.com/xeptore/tunedl/catalog"
	"github.com/xeptore/tunedl/lifecycle"
	"github.com/xeptore/tunedl/must"
	"github.com/xeptore/tunedl/result"
	"github.com/xeptore/tunedl/search"
)

var (
	ErrValidation        = errors.New("invalid input")
	ErrBusy              = errors.New("too many jobs in progress")
	ErrSearchUnavailable = search.ErrSearchUnavailable
	ErrAcquisitionFailed = acquire.ErrAcquisitionFailed
)

type Acquirer interface {
	Acquire(ctx context.Context, logger zerolog.Logger, locator, destinationName, storageDir string) (string, error)
}

type Resolver interface {
	Resolve(ctx context.Context, logger zerolog.Logger, title string) (catalog.Metadata, error)
}

type Tagger interface {
	Embed(logger zerolog.Logger, path string, md catalog.Metadata) error
}

// Outcome is a job that reached Ready. The file stays on disk until it is
// delivered or expires.
type Outcome struct {
	Job    *Job
	Record Record
}

type Pipeline struct {
	acquirer Acquirer
	resolver Resolver
	tagger   Tagger
	registry *lifecycle.Registry
	sem      *semaphore.Weighted
	newID    func() string

	mux  sync.Mutex
	jobs map[string]*Job
}

func New(acquirer Acquirer, resolver Resolver, tagger Tagger, registry *lifecycle.Registry, maxJobs int) *Pipeline {
	must.Be(maxJobs > 0, "max jobs must be positive")

	return &Pipeline{
		acquirer: acquirer,
		resolver: resolver,
		tagger:   tagger,
		registry: registry,
		sem:      semaphore.NewWeighted(int64(maxJobs)),
		newID:    uuid.NewString,
		mux:      sync.Mutex{},
		jobs:     make(map[string]*Job),
	}
}

// Run acquires the audio behind locator, resolves metadata for title
// concurrently, tags the file and registers it for delivery. Only validation,
// capacity and acquisition problems fail the run; metadata and tagging
// problems are reflected in the returned record instead.
func (p *Pipeline) Run(ctx context.Context, logger zerolog.Logger, title, locator string) (*Outcome, error) {
	title = strings.TrimSpace(title)
	locator = strings.TrimSpace(locator)

	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	if !search.IsLocator(locator) {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrValidation)
	}

	if !p.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer p.sem.Release(1)

	job := newJob(p.newID(), title, locator)
	logger = logger.With().Str("job_id", job.ID).Logger()
	dir := p.registry.JobDir(job.ID)

	var (
		handle *lifecycle.Handle
		meta   result.Of[catalog.Metadata]
	)

	wg, wctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		must.NilErr(job.transition(StateAcquiring))

		path, err := p.acquirer.Acquire(wctx, logger, locator, acquire.SanitizeName(title), dir)
		if nil != err {
			return err
		}

		must.NilErr(job.transition(StateAcquired))
		job.setFilePath(path)
		handle = p.register(logger, job, path)

		return nil
	})
	wg.Go(func() error {
		md, err := p.resolver.Resolve(wctx, logger, title)
		meta = result.Degraded(md, err)

		return nil
	})

	if err := wg.Wait(); nil != err {
		if rmErr := os.RemoveAll(dir); nil != rmErr {
			logger.Error().Err(rmErr).Msg("Failed to remove directory of failed job")
		}
		must.NilErr(job.transition(StateFailed))

		logger.Error().Err(err).Msg("Acquisition failed")
		if !errors.Is(err, ErrAcquisitionFailed) {
			err = fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
		}

		return nil, err
	}

	if err := ctx.Err(); nil != err {
		logger.Warn().Err(err).Msg("Request canceled after acquisition, releasing file")
		handle.Release()

		return nil, err
	}

	if err := job.transition(StateResolvingMetadata); nil != err {
		return nil, fmt.Errorf("file released before tagging: %v", err)
	}

	md := meta.Value()
	found := true
	if err := meta.Err(); nil != err {
		logger.Warn().Err(err).Msg("Metadata degraded to fallback")
		found = false
	} else if nil == md.Artist && nil == md.Album && nil == md.CoverArt && md.CoverURL == "" {
		found = false
	}

	if err := job.transition(StateTagging); nil != err {
		return nil, fmt.Errorf("file released before tagging: %v", err)
	}

	tagged := true
	if err := p.tagger.Embed(logger, job.FilePath(), md); nil != err {
		logger.Warn().Err(err).Msg("Delivering untagged file")
		tagged = false
	}

	if err := job.transition(StateReady); nil != err {
		return nil, fmt.Errorf("file released before it was ready: %v", err)
	}

	record := newRecord(md, found, tagged)
	logger.Info().
		Str("label", record.Label()).
		Bool("metadata_found", record.MetadataFound).
		Bool("tagged", record.Tagged).
		Msg("Job ready")

	return &Outcome{Job: job, Record: record}, nil
}

func (p *Pipeline) register(logger zerolog.Logger, job *Job, path string) *lifecycle.Handle {
	p.mux.Lock()
	p.jobs[job.ID] = job
	p.mux.Unlock()

	return p.registry.Register(job.ID, path, func() {
		p.mux.Lock()
		delete(p.jobs, job.ID)
		p.mux.Unlock()

		if err := job.transition(StateDeleted); nil != err {
			logger.Error().Err(err).Msg("Unexpected job state on release")
		}
	})
}

// Delivery is a ready file handed out for streaming. Release must be called
// once the response is over, however it ended.
type Delivery struct {
	Job    *Job
	handle *lifecycle.Handle
}

func (d *Delivery) Path() string {
	return d.handle.Path()
}

func (d *Delivery) Release() {
	d.handle.Release()
}

// Deliver hands out the file of job id at most once.
func (p *Pipeline) Deliver(id string) (*Delivery, bool) {
	p.mux.Lock()
	job, ok := p.jobs[id]
	p.mux.Unlock()
	if !ok {
		return nil, false
	}

	// The job is still being tagged.
	if job.State() != StateReady {
		return nil, false
	}

	handle, ok := p.registry.Take(id)
	if !ok {
		return nil, false
	}

	if err := job.transition(StateServed); nil != err {
		handle.Release()
		return nil, false
	}

	return &Delivery{Job: job, handle: handle}, true
}

// Pending reports how many jobs hold a file that has not been released yet.
func (p *Pipeline) Pending() int {
	p.mux.Lock()
	defer p.mux.Unlock()

	return len(p.jobs)
}
