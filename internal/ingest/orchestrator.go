package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"yt-audio-ingest/internal/model"
	"yt-audio-ingest/internal/playlist"
	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/runstore"
)

const (
	ScopePlaylist = "playlist"
	ScopeGlobal   = "global"

	DefaultWorkers = 4
	MaxWorkers     = 16

	AudioDirName = "audio"
	LinksDirName = "links"
	TmpDirName   = "tmp"
)

type Deps struct {
	Resolver    Resolver
	Downloader  Downloader
	Converter   Converter
	OpenArchive ArchiveOpener
	OpenLedger  LedgerOpener
	Metrics     Metrics
	Logger      zerolog.Logger
	Sleep       retry.SleepFunc
}

type Options struct {
	Root      string
	RunID     string
	Workers   int
	Scope     string
	Policy    retry.Policy
	ProxyMode string
	Proxies   []string
	// StageTimeout bounds a single download or conversion attempt. Zero
	// leaves attempts unbounded.
	StageTimeout time.Duration
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	policy retry.Policy
	log    zerolog.Logger

	claims claimRegistry

	dirsMu sync.Mutex
	dirs   map[string]*dirState

	fatalMu sync.Mutex
	fatal   error
}

// dirState is shared by every playlist that maps onto one directory. Its
// outstanding count gates removal of the shared temp root.
type dirState struct {
	dir     string
	tmpDir  string
	archive Archive
	ledger  Ledger

	mu          sync.Mutex
	outstanding int
	interrupted int
}

type playlistRun struct {
	title string
	ds    *dirState
	tasks []*task

	mu      sync.Mutex
	summary PlaylistSummary
}

type task struct {
	run  *playlistRun
	key  string
	stem string
	job  model.Job
}

func NormalizeScope(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ScopePlaylist:
		return ScopePlaylist, nil
	case ScopeGlobal:
		return ScopeGlobal, nil
	default:
		return "", fmt.Errorf("invalid scope %q (expected %s or %s)", strings.TrimSpace(raw), ScopePlaylist, ScopeGlobal)
	}
}

func ClampWorkers(n int) int {
	if n <= 0 {
		return DefaultWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Resolver == nil || deps.Downloader == nil || deps.Converter == nil {
		return nil, errors.New("ingest: resolver, downloader and converter are required")
	}
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("ingest: output root is required")
	}
	if deps.OpenArchive == nil {
		deps.OpenArchive = OpenFileArchive
	}
	if deps.OpenLedger == nil {
		deps.OpenLedger = OpenFileLedger
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}

	scope, err := NormalizeScope(opts.Scope)
	if err != nil {
		return nil, err
	}
	opts.Scope = scope
	opts.Workers = ClampWorkers(opts.Workers)
	mode, err := NormalizeProxyMode(opts.ProxyMode)
	if err != nil {
		return nil, err
	}
	opts.ProxyMode = mode
	opts.Proxies = normalizeProxyList(opts.Proxies)
	if err := validateProxies(opts.ProxyMode, opts.Proxies, opts.Workers); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.RunID) == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		opts.RunID = id.String()
	}

	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		policy: opts.Policy.Normalize(),
		log:    deps.Logger.With().Str("run_id", opts.RunID).Logger(),
		claims: claimRegistry{held: make(map[string]bool)},
		dirs:   make(map[string]*dirState),
	}, nil
}

func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// Run ingests every playlist in refs. The returned error is non-nil only for
// fatal conditions; per-item failures and interrupts are reported through
// Summary.Err.
func (o *Orchestrator) Run(ctx context.Context, refs []playlist.Ref) (Summary, error) {
	summary := Summary{RunID: o.opts.RunID, Root: o.opts.Root, StartedAt: time.Now().UTC()}
	if err := runstore.Mkdir(o.opts.Root); err != nil {
		return summary, retry.Persistence(err)
	}
	lock, err := runstore.AcquireRootLock(o.opts.Root, o.opts.RunID)
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			o.log.Warn().Err(err).Msg("release root lock")
		}
	}()

	o.log.Info().
		Str("root", o.opts.Root).
		Str("scope", o.opts.Scope).
		Int("workers", o.opts.Workers).
		Int("playlists", len(refs)).
		Msg("ingest started")

	var runs []*playlistRun
	switch o.opts.Scope {
	case ScopeGlobal:
		for _, ref := range refs {
			if ctx.Err() != nil {
				break
			}
			pr, perr := o.prepare(ctx, ref)
			if perr != nil {
				err = perr
				break
			}
			if pr != nil {
				runs = append(runs, pr)
			}
		}
		if err == nil {
			err = o.execute(ctx, runs)
		}
	default:
		for _, ref := range refs {
			if ctx.Err() != nil {
				break
			}
			pr, perr := o.prepare(ctx, ref)
			if perr != nil {
				err = perr
				break
			}
			if pr == nil {
				continue
			}
			runs = append(runs, pr)
			if err = o.execute(ctx, []*playlistRun{pr}); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = o.fatalErr()
	}

	for _, pr := range runs {
		summary.Playlists = append(summary.Playlists, pr.snapshot())
	}
	summary.Interrupted = ctx.Err() != nil
	summary.FinishedAt = time.Now().UTC()

	t := summary.Totals()
	ev := o.log.Info()
	if err != nil {
		ev = o.log.Error().Err(err)
	}
	ev.Int("archived", t.Archived).
		Int("skipped", t.Skipped).
		Int("failed", t.Failed).
		Int("interrupted", t.Interrupted).
		Int("resolve_failed", t.ResolveFailed).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("ingest finished")
	return summary, err
}

// prepare resolves ref, loads its archive and builds Pending jobs for every
// item not yet archived. A nil run with nil error means ctx was cancelled.
func (o *Orchestrator) prepare(ctx context.Context, ref playlist.Ref) (*playlistRun, error) {
	log := o.log.With().Str("playlist", ref.Label()).Logger()
	pl, err := o.deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		if retry.IsFatal(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		o.deps.Metrics.IncPlaylistFailed()
		log.Error().Err(err).Msg("playlist resolution failed")
		return &playlistRun{title: ref.Label(), summary: PlaylistSummary{Ref: ref, Title: ref.Label(), ResolveError: err.Error()}}, nil
	}
	o.deps.Metrics.IncPlaylistResolved()

	dir := filepath.Join(o.opts.Root, playlist.SanitizeName(pl.Title))
	for _, d := range []string{dir, filepath.Join(dir, AudioDirName), filepath.Join(dir, LinksDirName)} {
		if err := runstore.Mkdir(d); err != nil {
			return nil, retry.Persistence(err)
		}
	}
	ds, err := o.dirState(dir)
	if err != nil {
		return nil, err
	}

	pr := &playlistRun{title: pl.Title, ds: ds}
	skipped := 0
	for _, item := range pl.Items {
		if ds.archive.Contains(item.ItemID) {
			skipped++
			continue
		}
		key := dir + "\x00" + item.ItemID
		if !o.claims.claim(key) {
			log.Debug().Str("item", item.ItemID).Msg("item already queued by another playlist in this directory")
			skipped++
			continue
		}
		pr.tasks = append(pr.tasks, &task{run: pr, key: key, stem: fileStem(item.ItemID), job: model.NewJob(item)})
	}
	pr.summary = PlaylistSummary{
		Ref:     ref,
		Title:   pl.Title,
		Dir:     dir,
		Total:   len(pl.Items),
		Skipped: skipped,
	}
	o.deps.Metrics.AddSkipped(skipped)
	log.Info().
		Str("title", pl.Title).
		Str("dir", dir).
		Int("items", len(pl.Items)).
		Int("skipped", skipped).
		Int("queued", len(pr.tasks)).
		Msg("playlist resolved")

	ds.mu.Lock()
	ds.outstanding += len(pr.tasks)
	empty := ds.outstanding == 0
	ds.mu.Unlock()
	if empty {
		o.teardown(ds)
	}
	return pr, nil
}

func (o *Orchestrator) dirState(dir string) (*dirState, error) {
	o.dirsMu.Lock()
	defer o.dirsMu.Unlock()
	if ds, ok := o.dirs[dir]; ok {
		return ds, nil
	}
	archive, err := o.deps.OpenArchive(dir)
	if err != nil {
		return nil, asFatal(err)
	}
	ledger, err := o.deps.OpenLedger(dir)
	if err != nil {
		return nil, asFatal(err)
	}
	ds := &dirState{dir: dir, tmpDir: filepath.Join(dir, TmpDirName), archive: archive, ledger: ledger}
	o.dirs[dir] = ds
	return ds, nil
}

// execute runs every task of runs on one bounded pool. A fatal job error
// cancels dispatch; jobs still queued are finished as interrupted.
func (o *Orchestrator) execute(ctx context.Context, runs []*playlistRun) error {
	var tasks []*task
	for _, pr := range runs {
		tasks = append(tasks, pr.tasks...)
	}
	if len(tasks) == 0 {
		return nil
	}
	workers := min(o.opts.Workers, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan *task)
	g.Go(func() error {
		defer close(queue)
		for i, t := range tasks {
			select {
			case <-gctx.Done():
				for _, rest := range tasks[i:] {
					o.finish(rest)
				}
				return nil
			case queue <- t:
			}
		}
		return nil
	})
	for w := 1; w <= workers; w++ {
		proxy := proxyForWorker(w, o.opts.ProxyMode, o.opts.Proxies)
		g.Go(func() error {
			for t := range queue {
				if err := o.runJob(gctx, w, proxy, t); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// finish records the job outcome exactly once and tears the directory down
// after its last outstanding job.
func (o *Orchestrator) finish(t *task) {
	o.claims.release(t.key)
	job := t.job
	terminal := model.IsTerminal(job.State)

	pr := t.run
	pr.mu.Lock()
	switch job.State {
	case model.StateArchived:
		pr.summary.Archived++
	case model.StateFailed:
		pr.summary.Failed++
	default:
		pr.summary.Interrupted++
	}
	pr.summary.Jobs = append(pr.summary.Jobs, JobResult{
		ItemID:           job.Item.ItemID,
		Title:            job.Item.Title,
		State:            string(job.State),
		Reason:           job.Reason,
		DownloadAttempts: job.DownloadAttempts,
		ConvertAttempts:  job.ConvertAttempts,
		Error:            job.LastError,
	})
	pr.mu.Unlock()

	ds := pr.ds
	ds.mu.Lock()
	if !terminal {
		ds.interrupted++
	}
	ds.outstanding--
	done := ds.outstanding == 0
	ds.mu.Unlock()
	if done {
		o.teardown(ds)
	}
}

// teardown compacts the ledger and removes the shared temp root. The temp
// root is kept when any job for the directory did not reach a terminal
// state so a later run can inspect it.
func (o *Orchestrator) teardown(ds *dirState) {
	log := o.log.With().Str("dir", ds.dir).Logger()
	if err := ds.ledger.Compact(ds.archive.Contains); err != nil {
		o.setFatal(asFatal(fmt.Errorf("compact failure ledger in %s: %w", ds.dir, err)))
		return
	}

	ds.mu.Lock()
	interrupted := ds.interrupted
	ds.mu.Unlock()
	if interrupted > 0 {
		log.Info().Int("interrupted", interrupted).Msg("keeping temp directory for interrupted jobs")
		return
	}
	if err := runstore.RemoveAll(ds.tmpDir); err != nil {
		log.Warn().Err(err).Msg("remove temp directory")
		return
	}
	log.Debug().Msg("playlist teardown complete")
}

func (o *Orchestrator) setFatal(err error) {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	if o.fatal == nil {
		o.fatal = err
	}
}

func (o *Orchestrator) fatalErr() error {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	return o.fatal
}

func (pr *playlistRun) snapshot() PlaylistSummary {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	s := pr.summary
	s.Jobs = append([]JobResult(nil), pr.summary.Jobs...)
	return s
}

// claimRegistry guarantees at most one in-flight job per key.
type claimRegistry struct {
	mu   sync.Mutex
	held map[string]bool
}

func (c *claimRegistry) claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[key] {
		return false
	}
	c.held[key] = true
	return true
}

func (c *claimRegistry) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, key)
}

var unsafeStemChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func fileStem(id string) string {
	s := unsafeStemChars.ReplaceAllString(strings.TrimSpace(id), "_")
	if s == "" {
		return "item"
	}
	return s
}

func asFatal(err error) error {
	if err == nil || retry.IsFatal(err) {
		return err
	}
	return retry.Persistence(err)
}
