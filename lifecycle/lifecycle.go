package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/tunedl/must"
)

// Handle owns a delivered file and the per-job directory holding it. Release
// removes both and is safe to call any number of times from any goroutine.
type Handle struct {
	id        string
	dir       string
	path      string
	registry  *Registry
	onRelease func()
	timer     *time.Timer
	once      sync.Once
	taken     bool
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) Release() {
	h.once.Do(func() {
		h.registry.forget(h)

		logger := h.registry.logger.With().Str("job_id", h.id).Str("dir", h.dir).Logger()
		if err := os.RemoveAll(h.dir); nil != err {
			logger.Error().Err(err).Msg("Failed to remove job directory")
		} else {
			logger.Debug().Msg("Released job files")
		}

		if nil != h.onRelease {
			h.onRelease()
		}
	})
}

// Registry tracks every job directory under root that still has a file
// waiting to be delivered.
type Registry struct {
	mux     sync.Mutex
	root    string
	ttl     time.Duration
	logger  zerolog.Logger
	handles map[string]*Handle
	closed  bool
}

func NewRegistry(logger zerolog.Logger, root string, ttl time.Duration) (*Registry, error) {
	root, err := filepath.Abs(root)
	if nil != err {
		return nil, fmt.Errorf("failed to resolve absolute path of %s: %v", root, err)
	}

	if err := os.MkdirAll(root, 0o0700); nil != err {
		return nil, fmt.Errorf("failed to create %s: %v", root, err)
	}

	return &Registry{
		mux:     sync.Mutex{},
		root:    root,
		ttl:     ttl,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
		handles: make(map[string]*Handle),
		closed:  false,
	}, nil
}

// Root is the directory job directories are created under.
func (r *Registry) Root() string {
	return r.root
}

// JobDir returns the directory a job with the given id owns.
func (r *Registry) JobDir(id string) string {
	must.Be(id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != "..", "job id must be a single path element")

	return filepath.Join(r.root, id)
}

// Register takes ownership of path, which must live in the directory of job
// id. Unless taken before the registry TTL elapses, the file is released
// automatically. onRelease, if not nil, runs once after the files are removed.
func (r *Registry) Register(id, path string, onRelease func()) *Handle {
	dir := r.JobDir(id)
	must.Be(filepath.Dir(path) == dir, "registered file must be inside its job directory")

	h := &Handle{
		id:        id,
		dir:       dir,
		path:      path,
		registry:  r,
		onRelease: onRelease,
		timer:     nil,
		once:      sync.Once{},
		taken:     false,
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	_, exists := r.handles[id]
	must.Be(!exists, "job id registered twice")

	if r.closed {
		go h.Release()
		return h
	}

	r.handles[id] = h
	if r.ttl > 0 {
		h.timer = time.AfterFunc(r.ttl, func() {
			r.logger.Info().Str("job_id", id).Msg("Releasing file that was never downloaded")
			h.Release()
		})
	}

	return h
}

// Take hands the handle of job id out at most once. The caller becomes
// responsible for releasing it.
func (r *Registry) Take(id string) (*Handle, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()

	h, ok := r.handles[id]
	if !ok || h.taken {
		return nil, false
	}

	// A timer that already fired means the handle is being released.
	if nil != h.timer && !h.timer.Stop() {
		return nil, false
	}
	h.taken = true

	return h, true
}

func (r *Registry) Len() int {
	r.mux.Lock()
	defer r.mux.Unlock()

	return len(r.handles)
}

func (r *Registry) forget(h *Handle) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if nil != h.timer {
		h.timer.Stop()
	}

	if r.handles[h.id] == h {
		delete(r.handles, h.id)
	}
}

// Sweep removes directories under root that no live handle owns. They are
// left behind by a previous process that did not shut down cleanly.
func (r *Registry) Sweep() (removed int, err error) {
	entries, err := os.ReadDir(r.root)
	if nil != err {
		return 0, fmt.Errorf("failed to read %s: %v", r.root, err)
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	for _, e := range entries {
		if _, live := r.handles[e.Name()]; live {
			continue
		}

		p := filepath.Join(r.root, e.Name())
		if rmErr := os.RemoveAll(p); nil != rmErr {
			r.logger.Error().Err(rmErr).Str("path", p).Msg("Failed to remove orphaned job directory")
			err = errors.Join(err, fmt.Errorf("failed to remove %s: %v", p, rmErr))
			continue
		}

		removed++
	}

	if removed > 0 {
		r.logger.Info().Int("removed", removed).Msg("Removed orphaned job directories")
	}

	return removed, err
}

// Close releases every outstanding handle. Handles registered afterwards are
// released immediately.
func (r *Registry) Close() {
	r.mux.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mux.Unlock()

	for _, h := range handles {
		h.Release()
	}

	r.logger.Debug().Int("released", len(handles)).Msg("Lifecycle registry closed")
}
