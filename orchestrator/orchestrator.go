// Package orchestrator runs one publish pass: it takes the run lock, walks
// the configured sources in order, and for each one fetches, ranks and
// deduplicates candidates before handing them to the scheduler and the
// destination one at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipsync/clip"
	"clipsync/dedup"
	"clipsync/internal/logging"
	"clipsync/internal/retry"
	"clipsync/media"
	"clipsync/ranking"
	"clipsync/scheduler"
	"clipsync/storage"
	"clipsync/twitch"
	"clipsync/youtube"
)

// ErrLocked is returned by Run when another run holds the lock.
var ErrLocked = errors.New("orchestrator: another run is active")

// errSourceHalted stops the current source without failing the run.
var errSourceHalted = errors.New("source halted")

// Default timeouts for collaborators whose timeout is not configured.
const (
	defaultFetchTimeout     = 30 * time.Second
	defaultProbeTimeout     = 20 * time.Second
	defaultTransformTimeout = 5 * time.Minute
	defaultPublishTimeout   = 15 * time.Minute
	defaultVerifyTimeout    = 30 * time.Second
)

// Fetcher discovers candidates on the source platform.
type Fetcher interface {
	FetchCandidates(ctx context.Context, src twitch.Source, lookback time.Duration, maxResults int) ([]clip.Candidate, error)
	FetchByID(ctx context.Context, sourceName, id string) (clip.Candidate, error)
}

// Transformer turns a candidate into an uploadable file.
type Transformer interface {
	Prepare(ctx context.Context, c clip.Candidate) (media.Artifact, error)
	Cleanup(a media.Artifact)
}

// Publisher uploads to the destination.
type Publisher interface {
	Publish(ctx context.Context, u youtube.Upload) (string, error)
}

// Verifier reads back the status of an upload.
type Verifier interface {
	Verify(ctx context.Context, remoteID string) (youtube.Status, error)
}

// Describer writes a description for a published candidate.
type Describer interface {
	Describe(ctx context.Context, c clip.Candidate) (string, error)
}

// DescriptionUpdater replaces the description of an upload.
type DescriptionUpdater interface {
	UpdateDescription(ctx context.Context, remoteID, description string) error
}

// ViewCounter reads destination view counts.
type ViewCounter interface {
	ViewCounts(ctx context.Context, remoteIDs []string) (map[string]int64, error)
}

// Locker is the single-instance run lock.
type Locker interface {
	Acquire() (bool, error)
	Release() error
}

// Deps are the collaborators of a run. Store, Lock, Fetcher, Transformer and
// Publisher are required; the rest are optional.
type Deps struct {
	Store       storage.Store
	Lock        Locker
	Fetcher     Fetcher
	Transformer Transformer
	Publisher   Publisher

	// Probe is the remote duplicate probe. Without it layer 5 is skipped.
	Probe     dedup.Probe
	Blocklist *dedup.Blocklist
	Verifier  Verifier
	// Describer and Updater together enable description enrichment.
	Describer Describer
	Updater   DescriptionUpdater
	// Views feeds the performance loop.
	Views ViewCounter
}

// Orchestrator runs publish passes.
type Orchestrator struct {
	settings Settings
	deps     Deps
	meta     *renderer
	log      *logging.Logger
	now      func() time.Time
}

// New validates deps and returns an orchestrator.
func New(settings Settings, deps Deps, log *logging.Logger) (*Orchestrator, error) {
	var missing []string
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Lock == nil {
		missing = append(missing, "lock")
	}
	if deps.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if deps.Transformer == nil {
		missing = append(missing, "transformer")
	}
	if deps.Publisher == nil {
		missing = append(missing, "publisher")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing collaborators: %v", missing)
	}

	meta, err := newRenderer(settings.Metadata)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return &Orchestrator{
		settings: settings,
		deps:     deps,
		meta:     meta,
		log:      log.With("orchestrator"),
		now:      time.Now,
	}, nil
}

// run is the state of one pass.
type run struct {
	o      *Orchestrator
	sched  *scheduler.Scheduler
	dedup  *dedup.Engine
	report *Report
	stats  []*storage.SourceStats
	// queued maps a forced candidate ID to its pending queue entry IDs.
	queued map[string][]string
	log    *logging.Logger
}

// Run performs one pass over every source. The returned report is non-nil
// whenever the lock was acquired, including when an error aborted the run.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	ok, err := o.deps.Lock.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	defer func() {
		if err := o.deps.Lock.Release(); err != nil {
			o.log.Error("release run lock: %v", err)
		}
	}()

	s := o.settings
	policies := make([]scheduler.Policy, 0, len(s.Sources))
	for _, src := range s.Sources {
		policies = append(policies, scheduler.Policy{
			Name:       src.Name,
			GroupKey:   src.GroupKey,
			PublishCap: src.PublishCap,
			Spacing:    src.Spacing,
		})
	}

	r := &run{
		o:     o,
		sched: scheduler.New(o.deps.Store, scheduler.Config{DailyUploadLimit: s.DailyUploadLimit}, policies, o.log),
		dedup: dedup.NewEngine(o.deps.Store, o.deps.Blocklist, o.deps.Probe,
			dedup.Config{MaxRetries: s.MaxRetries, Overlap: s.Overlap}, o.log),
		report: &Report{RunID: uuid.NewString(), DryRun: s.DryRun, StartedAt: o.now()},
		queued: make(map[string][]string),
		log:    o.log,
	}
	defer func() { r.report.FinishedAt = o.now() }()

	o.log.Info("run %s started: %d sources, dry run %t", r.report.RunID, len(s.Sources), s.DryRun)

	if s.Performance.Enabled {
		if r.stats, err = o.deps.Store.ListSourceStats(ctx); err != nil {
			return r.report, fmt.Errorf("load source stats: %w", err)
		}
	}

	for _, src := range s.Sources {
		sr := newSourceReport(src.Name)
		r.report.Sources = append(r.report.Sources, sr)
		if reason, halted := r.sched.Halted(); halted {
			sr.Halt = reason
			continue
		}
		if err := r.source(ctx, src, sr); err != nil {
			r.report.Halt, _ = r.sched.Halted()
			return r.report, err
		}
	}

	r.report.Halt, _ = r.sched.Halted()
	o.log.Info("run %s finished: %d published, %d failed", r.report.RunID, r.report.Published(), r.report.Failed())
	return r.report, nil
}

func (r *run) source(ctx context.Context, src Source, sr *SourceReport) error {
	forced, err := r.forced(ctx, src, sr)
	if err != nil {
		return err
	}

	fetched, err := r.fetch(ctx, src, sr)
	if err != nil {
		return err
	}

	eligible := make([]clip.Candidate, 0, len(fetched))
	for _, c := range fetched {
		if c.ViewCount >= src.MinViewCount {
			eligible = append(eligible, c)
		}
	}
	sr.Eligible = len(eligible)

	scored := ranking.Rank(eligible, r.rankingConfig(src))
	sr.Ranked = len(scored)
	for _, sc := range scored {
		if sc.Degenerate {
			r.log.Warn("%s: candidate %s has duration %.1fs, ranked last", src.Name, sc.ID, sc.DurationSeconds)
		}
		if sc.MissingTimestamp {
			r.log.Warn("%s: candidate %s has no creation time", src.Name, sc.ID)
		}
	}

	res, err := r.dedup.FilterNew(ctx, src.GroupKey, ranking.Candidates(scored))
	if err != nil {
		return fmt.Errorf("dedup %s: %w", src.Name, err)
	}
	for _, ex := range res.Excluded {
		sr.Excluded[ex.Reason]++
		r.log.Debug("%s: excluded %s (%s %s)", src.Name, ex.Candidate.ID, ex.Reason, ex.RelatedID)
	}

	candidates := forced
	for _, c := range res.Survivors {
		if _, ok := r.queued[c.ID]; ok {
			r.log.Debug("%s: %s is already queued for this run", src.Name, c.ID)
			continue
		}
		candidates = append(candidates, c)
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := r.sched.MayPublish(ctx, src.Name)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", src.Name, err)
		}
		if !d.Allowed {
			sr.Halt = d.Reason
			r.log.Info("%s: stopping: %s", src.Name, d.Reason)
			break
		}

		stop, err := r.process(ctx, src, sr, c)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	if sr.Halt == scheduler.ReasonAllowed {
		sr.Halt = r.sched.SourceHalt(src.Name)
	}

	return r.updateStats(ctx, src, sr)
}

// forced resolves the pending manual queue of src into forced candidates.
func (r *run) forced(ctx context.Context, src Source, sr *SourceReport) ([]clip.Candidate, error) {
	entries, err := r.o.deps.Store.PendingQueue(ctx, src.Name)
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", src.Name, err)
	}

	var cands []clip.Candidate
	for _, e := range entries {
		id, err := twitch.ParseClipRef(e.Ref)
		if err != nil {
			r.log.Warn("%s: dropping queue entry %s: %v", src.Name, e.ID, err)
			if err := r.consumeEntry(ctx, e.ID); err != nil {
				return nil, err
			}
			continue
		}
		if _, dup := r.queued[id]; dup {
			r.queued[id] = append(r.queued[id], e.ID)
			continue
		}

		fctx, cancel := context.WithTimeout(ctx, timeout(r.o.settings.Timeouts.Fetch, defaultFetchTimeout))
		c, err := r.o.deps.Fetcher.FetchByID(fctx, src.Name, id)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if clip.Classify(err) == clip.OutcomeRejected {
				r.log.Warn("%s: dropping queued clip %s: %v", src.Name, id, err)
				if err := r.consumeEntry(ctx, e.ID); err != nil {
					return nil, err
				}
				continue
			}
			r.log.Warn("%s: could not resolve queued clip %s, keeping it for the next run: %v", src.Name, id, err)
			continue
		}
		c.Forced = true
		c.SourceName = src.Name
		r.queued[c.ID] = append(r.queued[c.ID], e.ID)
		cands = append(cands, c)
	}
	sr.Forced = len(cands)
	if len(cands) == 0 {
		return nil, nil
	}

	res, err := r.dedup.FilterForced(ctx, cands)
	if err != nil {
		return nil, fmt.Errorf("dedup queue %s: %w", src.Name, err)
	}
	for _, ex := range res.Excluded {
		sr.Excluded[ex.Reason]++
		r.log.Info("%s: queued clip %s excluded: %s", src.Name, ex.Candidate.ID, ex.Reason)
		switch ex.Reason {
		case dedup.ReasonPublished, dedup.ReasonBlocklisted, dedup.ReasonExhausted:
			if err := r.consume(ctx, ex.Candidate.ID); err != nil {
				return nil, err
			}
		}
	}
	return res.Survivors, nil
}

func (r *run) fetch(ctx context.Context, src Source, sr *SourceReport) ([]clip.Candidate, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout(r.o.settings.Timeouts.Fetch, defaultFetchTimeout))
	defer cancel()

	cands, err := r.o.deps.Fetcher.FetchCandidates(fctx, src.Source, r.o.settings.Lookback, r.o.settings.MaxResults)
	if err != nil {
		sr.FetchErr = err.Error()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, twitch.ErrPartialFetch):
			r.log.Warn("%s: partial fetch, keeping %d candidates: %v", src.Name, len(cands), err)
		default:
			r.log.Error("%s: fetch failed: %v", src.Name, err)
			return nil, nil
		}
	}
	sr.Fetched = len(cands)
	return cands, nil
}

func (r *run) rankingConfig(src Source) ranking.Config {
	cfg := src.Ranking
	cfg.Now = r.o.now()
	if r.o.settings.Performance.Enabled {
		var own *storage.SourceStats
		for _, st := range r.stats {
			if st.SourceName == src.Name {
				own = st
			}
		}
		cfg.PerformanceMultiplier = ranking.Performance(own, r.stats, r.o.settings.Performance.MinSamples)
		r.log.Debug("%s: performance multiplier %.2f", src.Name, cfg.PerformanceMultiplier)
	}
	return cfg
}

// process takes one candidate through its attempt and books the outcome. It
// reports whether the source should stop.
func (r *run) process(ctx context.Context, src Source, sr *SourceReport, c clip.Candidate) (bool, error) {
	var outcome clip.Outcome
	title, desc, err := r.o.meta.render(c)
	if err != nil {
		outcome = clip.Failed(err)
	} else {
		outcome, err = r.attempt(ctx, src, sr, c, title, desc)
		if errors.Is(err, errSourceHalted) {
			return true, nil
		}
		if err != nil {
			return true, err
		}
	}
	if ctx.Err() != nil && outcome.Kind != clip.OutcomePublished && outcome.Kind != clip.OutcomeDuplicateDetected {
		return true, ctx.Err()
	}

	r.sched.RecordOutcome(src.Name, outcome)

	switch outcome.Kind {
	case clip.OutcomePublished, clip.OutcomeDuplicateDetected:
		if outcome.Kind == clip.OutcomeDuplicateDetected {
			sr.Duplicates++
		}
		return false, r.consume(ctx, c.ID)
	case clip.OutcomeQuotaExhausted:
		sr.Failed = append(sr.Failed, FailedClip{ID: c.ID, Outcome: outcome.Kind.String(), Error: errString(outcome.Err)})
		sr.Halt = scheduler.ReasonQuotaExhausted
		r.log.Error("%s: quota exhausted at %s, halting run: %v", src.Name, c.ID, outcome.Err)
		return true, nil
	case clip.OutcomeFatal:
		sr.Failed = append(sr.Failed, FailedClip{ID: c.ID, Outcome: outcome.Kind.String(), Error: errString(outcome.Err)})
		r.log.Error("%s: %s failed: %v", src.Name, c.ID, outcome.Err)
		return r.sched.SourceHalt(src.Name) != scheduler.ReasonAllowed, nil
	case clip.OutcomeTransient, clip.OutcomeRejected:
		sr.Failed = append(sr.Failed, FailedClip{ID: c.ID, Outcome: outcome.Kind.String(), Error: errString(outcome.Err)})
		r.log.Warn("%s: %s failed (%s): %v", src.Name, c.ID, outcome.Kind, outcome.Err)
		return false, r.recordFailure(ctx, src, c, outcome.Err)
	}
	return false, nil
}

// attempt probes, transforms and publishes one candidate. A non-nil error
// aborts the run, except errSourceHalted.
func (r *run) attempt(ctx context.Context, src Source, sr *SourceReport, c clip.Candidate, title, desc string) (clip.Outcome, error) {
	s := r.o.settings

	pctx, cancel := context.WithTimeout(ctx, timeout(s.Timeouts.Probe, defaultProbeTimeout))
	verdict, err := r.dedup.Check(pctx, c, title, dedup.CheckOptions{GroupKey: src.GroupKey, ReadOnly: s.DryRun})
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, dedup.ErrProbeUnauthorized):
			r.log.Error("%s: remote probe unauthorized, stopping source: %v", src.Name, err)
			r.sched.HaltSource(src.Name, scheduler.ReasonUnauthorized)
			sr.Halt = scheduler.ReasonUnauthorized
			return clip.Outcome{}, errSourceHalted
		case clip.Classify(err) == clip.OutcomeQuotaExhausted:
			return clip.Failed(err), nil
		case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			r.log.Warn("%s: remote probe for %s timed out, continuing without it", src.Name, c.ID)
		default:
			return clip.Outcome{}, fmt.Errorf("probe %s: %w", c.ID, err)
		}
	}
	if verdict.Duplicate {
		r.log.Info("%s: %s already uploaded as %s", src.Name, c.ID, verdict.RemoteID)
		return clip.Duplicate(verdict.RemoteID), nil
	}

	if s.DryRun {
		sr.Planned = append(sr.Planned, fmt.Sprintf("%s %q", c.ID, title))
		r.log.Info("%s: dry run, would publish %s as %q", src.Name, c.ID, title)
		return clip.Published(""), nil
	}

	var art media.Artifact
	err = retry.Do(ctx, s.Retry, retry.IsRetryable, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, timeout(s.Timeouts.Transform, defaultTransformTimeout))
		defer cancel()
		a, err := r.o.deps.Transformer.Prepare(tctx, c)
		if err != nil {
			return err
		}
		art = a
		return nil
	})
	if err != nil {
		return clip.Failed(unwrapRetry(err)), nil
	}
	defer r.o.deps.Transformer.Cleanup(art)

	upload := youtube.Upload{
		FilePath:      art.Path,
		Title:         title,
		Description:   desc,
		Tags:          s.Metadata.Tags,
		CategoryID:    s.Metadata.CategoryID,
		PrivacyStatus: s.Metadata.PrivacyStatus,
	}
	var remoteID string
	reconciled := false
	attempts := 0
	err = retry.Do(ctx, s.Retry, retry.IsRetryable, func(ctx context.Context) error {
		if attempts > 0 {
			if id := r.reprobe(ctx, title); id != "" {
				remoteID, reconciled = id, true
				return nil
			}
		}
		attempts++
		uctx, cancel := context.WithTimeout(ctx, timeout(s.Timeouts.Publish, defaultPublishTimeout))
		defer cancel()
		id, err := r.o.deps.Publisher.Publish(uctx, upload)
		if err != nil {
			r.log.Warn("%s: publish attempt %d for %s failed: %v", src.Name, attempts, c.ID, err)
			return err
		}
		remoteID = id
		return nil
	})
	if err != nil {
		return clip.Failed(unwrapRetry(err)), nil
	}

	published := PublishedClip{ID: c.ID, RemoteID: remoteID, Title: title, Reconciled: reconciled}
	sr.Published = append(sr.Published, published)

	// The upload is irreversible from here on. Record it before anything else
	// and even if the run is being cancelled.
	wctx := context.WithoutCancel(ctx)
	err = r.o.deps.Store.RecordPublish(wctx, storage.PublishRecord{
		ID:          c.ID,
		SourceName:  src.Name,
		GroupKey:    src.GroupKey,
		Title:       c.Title,
		CreatedAt:   c.CreatedAt,
		RemoteID:    remoteID,
		PublishedAt: r.o.now(),
	})
	if err != nil {
		r.log.Critical("%s: %s was published as %s but recording it failed, it may be uploaded again: %v",
			src.Name, c.ID, remoteID, err)
		return clip.Published(remoteID), fmt.Errorf("record publish %s (remote %s): %w", c.ID, remoteID, err)
	}
	if reconciled {
		r.log.Info("%s: %s found as %s after a failed attempt", src.Name, c.ID, remoteID)
	} else {
		r.log.Info("%s: published %s as %s", src.Name, c.ID, remoteID)
	}

	r.verify(ctx, src, remoteID)
	r.enrich(ctx, src, c, remoteID)
	return clip.Published(remoteID), nil
}

// reprobe looks for an earlier attempt that reached the destination.
func (r *run) reprobe(ctx context.Context, title string) string {
	if r.o.deps.Probe == nil {
		return ""
	}
	pctx, cancel := context.WithTimeout(ctx, timeout(r.o.settings.Timeouts.Probe, defaultProbeTimeout))
	defer cancel()
	id, err := r.o.deps.Probe.FindRecentByTitle(pctx, title)
	if err != nil {
		r.log.Warn("re-probe before retry failed: %v", err)
		return ""
	}
	return id
}

func (r *run) verify(ctx context.Context, src Source, remoteID string) {
	if r.o.deps.Verifier == nil {
		return
	}
	vctx, cancel := context.WithTimeout(ctx, timeout(r.o.settings.Timeouts.Verify, defaultVerifyTimeout))
	defer cancel()
	st, err := r.o.deps.Verifier.Verify(vctx, remoteID)
	switch {
	case err != nil:
		r.log.Warn("%s: verify %s: %v", src.Name, remoteID, err)
	case !st.OK():
		r.log.Warn("%s: upload %s is %s (failure %q, rejection %q)",
			src.Name, remoteID, st.UploadStatus, st.FailureReason, st.RejectionReason)
	default:
		r.log.Debug("%s: upload %s is %s", src.Name, remoteID, st.UploadStatus)
	}
}

func (r *run) enrich(ctx context.Context, src Source, c clip.Candidate, remoteID string) {
	if r.o.deps.Describer == nil || r.o.deps.Updater == nil {
		return
	}
	ectx, cancel := context.WithTimeout(ctx, timeout(r.o.settings.Timeouts.Verify, defaultVerifyTimeout))
	defer cancel()
	desc, err := r.o.deps.Describer.Describe(ectx, c)
	if err == nil {
		err = r.o.deps.Updater.UpdateDescription(ectx, remoteID, desc)
	}
	if err != nil {
		r.log.Warn("%s: enrich %s: %v", src.Name, remoteID, err)
	}
}

// recordFailure charges one attempt to the candidate.
func (r *run) recordFailure(ctx context.Context, src Source, c clip.Candidate, cause error) error {
	if r.o.settings.DryRun {
		return nil
	}
	n, err := r.o.deps.Store.IncrementFailCount(context.WithoutCancel(ctx), storage.FailureRecord{
		ID:         c.ID,
		SourceName: src.Name,
		GroupKey:   src.GroupKey,
		Title:      c.Title,
		CreatedAt:  c.CreatedAt,
		Err:        cause,
	})
	if err != nil {
		return fmt.Errorf("record failure %s: %w", c.ID, err)
	}
	if limit := r.o.settings.MaxRetries; limit > 0 && n >= limit {
		r.log.Warn("%s: %s failed %d times and is now excluded", src.Name, c.ID, n)
	}
	return nil
}

// consume resolves the queue entries of a forced candidate.
func (r *run) consume(ctx context.Context, candidateID string) error {
	ids := r.queued[candidateID]
	delete(r.queued, candidateID)
	for _, id := range ids {
		if err := r.consumeEntry(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) consumeEntry(ctx context.Context, entryID string) error {
	if r.o.settings.DryRun {
		return nil
	}
	if err := r.o.deps.Store.MarkQueueConsumed(ctx, entryID, r.o.now()); err != nil {
		return fmt.Errorf("consume queue entry %s: %w", entryID, err)
	}
	return nil
}

// updateStats refreshes the performance statistics of src.
func (r *run) updateStats(ctx context.Context, src Source, sr *SourceReport) error {
	if r.o.settings.DryRun || !r.o.settings.Performance.Enabled || r.o.deps.Views == nil {
		return nil
	}
	store := r.o.deps.Store

	next := &storage.SourceStats{SourceName: src.Name}
	prev, err := store.GetSourceStats(ctx, src.Name)
	switch {
	case err == nil:
		*next = *prev
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("read stats %s: %w", src.Name, err)
	}
	next.TotalPublished += len(sr.Published)
	next.UpdatedAt = r.o.now()

	ids, err := store.RecentRemoteIDs(ctx, src.Name, r.o.settings.Performance.Window)
	if err != nil {
		return fmt.Errorf("read recent uploads %s: %w", src.Name, err)
	}
	if len(ids) > 0 {
		vctx, cancel := context.WithTimeout(ctx, timeout(r.o.settings.Timeouts.Verify, defaultVerifyTimeout))
		counts, err := r.o.deps.Views.ViewCounts(vctx, ids)
		cancel()
		if err != nil {
			r.log.Warn("%s: view counts unavailable, keeping previous average: %v", src.Name, err)
		} else if len(counts) > 0 {
			var sum int64
			for _, v := range counts {
				sum += v
			}
			next.RecentAvgViews = float64(sum) / float64(len(counts))
			next.Samples = len(counts)
		}
	}

	if err := store.UpsertSourceStats(ctx, next); err != nil {
		return fmt.Errorf("write stats %s: %w", src.Name, err)
	}
	return nil
}

func unwrapRetry(err error) error {
	var re *retry.RetryableError
	if errors.As(err, &re) {
		return re.Err
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
