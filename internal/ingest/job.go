package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"yt-audio-ingest/internal/convert"
	"yt-audio-ingest/internal/model"
	"yt-audio-ingest/internal/retry"
	"yt-audio-ingest/internal/runstore"
)

type stageOutcome int

const (
	stageOK stageOutcome = iota
	stageFailed
	stageInterrupted
)

// runJob drives one job to a terminal state, or leaves it where it stopped
// when stop fires between stages. Only fatal errors are returned.
func (o *Orchestrator) runJob(stop context.Context, workerID int, proxy string, t *task) error {
	job := &t.job
	ds := t.run.ds
	log := o.log.With().
		Str("playlist", t.run.title).
		Str("item", job.Item.ItemID).
		Int("worker", workerID).
		Logger()

	if stop.Err() != nil {
		o.finish(t)
		return nil
	}
	o.deps.Metrics.JobStarted()
	defer o.deps.Metrics.JobFinished()

	if strings.TrimSpace(job.Item.SourceURL) == "" {
		return o.fail(t, log, model.ReasonMissingURL, errors.New("item has no source URL"))
	}

	jobDir := filepath.Join(ds.tmpDir, t.stem)
	if err := runstore.Mkdir(jobDir); err != nil {
		o.finish(t)
		return retry.Persistence(err)
	}
	if err := convert.RemoveStale(jobDir); err != nil {
		o.finish(t)
		return retry.Persistence(err)
	}

	if err := o.transition(job, model.StateDownloading); err != nil {
		o.finish(t)
		return err
	}
	log.Debug().Str("url", job.Item.SourceURL).Msg("download started")
	progress := newProgressLogger(log)
	var raw string
	outcome, err := o.runStage(stop, log, job, model.StateDownloading, o.policy.AttemptBudget(), func(ctx context.Context) error {
		p, err := o.deps.Downloader.Download(ctx, DownloadRequest{
			Item:     job.Item,
			Dir:      jobDir,
			Stem:     t.stem,
			Proxy:    proxy,
			Progress: progress.Handle,
		})
		raw = p
		return err
	})
	job.DownloadAttempts = job.Attempts
	switch outcome {
	case stageInterrupted:
		log.Info().Str("state", string(job.State)).Msg("job interrupted")
		o.finish(t)
		return nil
	case stageFailed:
		if retry.IsFatal(err) {
			o.finish(t)
			return err
		}
		reason := model.ReasonRetriesExhausted
		if retry.Classify(err) == retry.Permanent {
			reason = model.ReasonPermanent
		}
		return o.fail(t, log, reason, err)
	}
	if err := o.transition(job, model.StateDownloaded); err != nil {
		o.finish(t)
		return err
	}

	if stop.Err() != nil {
		log.Info().Str("state", string(job.State)).Msg("job interrupted")
		o.finish(t)
		return nil
	}
	if err := o.transition(job, model.StateConverting); err != nil {
		o.finish(t)
		return err
	}
	finalPath := filepath.Join(ds.dir, AudioDirName, t.stem+convert.OutputExt)
	outcome, err = o.runStage(stop, log, job, model.StateConverting, o.policy.ConversionBudget(), func(ctx context.Context) error {
		return o.deps.Converter.Convert(ctx, raw, finalPath)
	})
	job.ConvertAttempts = job.Attempts
	switch outcome {
	case stageInterrupted:
		log.Info().Str("state", string(job.State)).Msg("job interrupted")
		o.finish(t)
		return nil
	case stageFailed:
		if retry.IsFatal(err) {
			o.finish(t)
			return err
		}
		return o.fail(t, log, model.ReasonConversion, err)
	}
	if err := o.transition(job, model.StateConverted); err != nil {
		o.finish(t)
		return err
	}

	// The artifact is already in place; record it even when stopping so the
	// archive matches the audio directory.
	if err := ds.archive.Add(job.Item.ItemID); err != nil {
		o.finish(t)
		return asFatal(err)
	}
	if err := o.transition(job, model.StateArchived); err != nil {
		o.finish(t)
		return err
	}
	o.deps.Metrics.IncArchived()

	if err := os.RemoveAll(jobDir); err != nil {
		log.Warn().Err(err).Msg("remove job temp directory")
	}
	linkPath := filepath.Join(ds.dir, LinksDirName, t.stem+".txt")
	if err := runstore.WriteBytes(linkPath, []byte(job.Item.SourceURL+"\n")); err != nil {
		log.Warn().Err(err).Msg("write link file")
	}
	log.Info().
		Int("download_attempts", job.DownloadAttempts).
		Int("convert_attempts", job.ConvertAttempts).
		Str("audio", finalPath).
		Msg("item archived")
	o.finish(t)
	return nil
}

// runStage runs fn until it succeeds, fails for good, or stop interrupts a
// backoff. Each attempt runs on a context detached from stop so a stage in
// progress always completes.
func (o *Orchestrator) runStage(stop context.Context, log zerolog.Logger, job *model.Job, stage model.JobState, budget int, fn func(ctx context.Context) error) (stageOutcome, error) {
	job.Attempts = 0
	for {
		job.Attempts++
		err := o.attempt(stop, fn)
		if err == nil {
			return stageOK, nil
		}
		kind := retry.Classify(err)
		job.LastError = err.Error()
		job.LastKind = kind.String()
		if kind == retry.Fatal || !o.policy.Retryable(err, job.Attempts, budget) {
			return stageFailed, err
		}

		if terr := o.transition(job, model.StateRetrying); terr != nil {
			return stageFailed, terr
		}
		o.deps.Metrics.IncRetry(string(stage))
		delay := o.policy.NextDelay(job.Attempts)
		log.Warn().
			Err(err).
			Str("stage", string(stage)).
			Int("attempt", job.Attempts).
			Int("budget", budget).
			Dur("backoff", delay).
			Msg("transient failure; retrying")
		if stop.Err() != nil {
			return stageInterrupted, nil
		}
		if serr := o.deps.Sleep(stop, delay); serr != nil {
			return stageInterrupted, nil
		}
		if terr := o.transition(job, stage); terr != nil {
			return stageFailed, terr
		}
	}
}

func (o *Orchestrator) attempt(stop context.Context, fn func(ctx context.Context) error) error {
	ctx := context.WithoutCancel(stop)
	if o.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.StageTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// fail moves the job to Failed and appends its ledger record.
func (o *Orchestrator) fail(t *task, log zerolog.Logger, reason string, cause error) error {
	job := &t.job
	job.Reason = reason
	job.LastError = cause.Error()
	if err := o.transition(job, model.StateFailed); err != nil {
		o.finish(t)
		return err
	}
	rec := model.FailureRecord{
		ItemID:    job.Item.ItemID,
		SourceURL: job.Item.SourceURL,
		Reason:    reason,
		Attempts:  job.Attempts,
		Detail:    cause.Error(),
	}
	if err := t.run.ds.ledger.Append(rec); err != nil {
		o.finish(t)
		return asFatal(err)
	}
	o.deps.Metrics.IncFailed(reason)
	log.Warn().Err(cause).Str("reason", reason).Int("attempts", job.Attempts).Msg("item failed")
	o.finish(t)
	return nil
}

func (o *Orchestrator) transition(job *model.Job, to model.JobState) error {
	if err := model.TransitionJobState(job, to); err != nil {
		return retry.WithKind(retry.OpJobState, retry.Fatal, fmt.Errorf("job %s: %w", job.Item.ItemID, err))
	}
	return nil
}
