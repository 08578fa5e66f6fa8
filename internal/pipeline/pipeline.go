// Package pipeline runs a job through the stage sequence of its kind and
// records every transition in the job store.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/jobstore"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/stages"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/storage"
)

// Cache holds finished recipes by source URL. Get returns
// common.ErrCacheMiss when nothing is stored.
type Cache interface {
	Get(ctx context.Context, sourceURL string) (*recipe.Recipe, error)
	Put(ctx context.Context, sourceURL string, r *recipe.Recipe) error
}

// Archive keeps completed jobs beyond the in-memory retention.
type Archive interface {
	SaveRecipe(ctx context.Context, j *job.Job) error
}

type Deps struct {
	Store       *jobstore.Store
	Media       stages.Acquirer
	Pages       stages.Acquirer
	Transcriber stages.Transcriber
	Extractor   stages.Extractor

	// Optional.
	Artifacts storage.Storage
	Cache     Cache
	Archive   Archive

	RecipeSites []string
	// ScrapeAnySite lets links to unlisted sites run the recipe page branch.
	ScrapeAnySite bool
}

type Pipeline struct {
	store       *jobstore.Store
	media       stages.Acquirer
	pages       stages.Acquirer
	transcriber stages.Transcriber
	extractor   stages.Extractor
	artifacts   storage.Storage
	cache       Cache
	archive     Archive
	recipeSites []string
	anySite     bool
	table       map[job.Kind][]stage
}

// run carries stage outputs from one stage to the next.
type run struct {
	jobID  uuid.UUID
	url    string
	raw    *stages.RawContent
	recipe *recipe.Recipe
}

type stage struct {
	status   job.Status
	progress int
	step     string
	exec     func(ctx context.Context, r *run) error
}

func New(d Deps) *Pipeline {
	p := &Pipeline{
		store:       d.Store,
		media:       d.Media,
		pages:       d.Pages,
		transcriber: d.Transcriber,
		extractor:   d.Extractor,
		artifacts:   d.Artifacts,
		cache:       d.Cache,
		archive:     d.Archive,
		recipeSites: d.RecipeSites,
		anySite:     d.ScrapeAnySite,
	}
	p.table = map[job.Kind][]stage{
		job.KindMedia: {
			{job.StatusDownloading, 20, "downloading video", p.acquire(p.media)},
			{job.StatusTranscribing, 40, "transcribing audio", p.transcribe},
			{job.StatusExtracting, 70, "extracting recipe", p.extract},
		},
		job.KindRecipePage: {
			{job.StatusDownloading, 20, "fetching page", p.acquire(p.pages)},
			{job.StatusExtracting, 80, "structuring recipe", p.extract},
		},
	}
	return p
}

// Classify resolves the branch for url with the configured recipe sites.
func (p *Pipeline) Classify(url string) (job.Kind, error) {
	if p.anySite {
		return ClassifyAnySite(url, p.recipeSites)
	}
	return Classify(url, p.recipeSites)
}

// Run executes the job to a terminal state. The returned error is the
// failure that ended the job, or nil when it completed. A job that was
// already made terminal elsewhere (cancelled) is left untouched.
func (p *Pipeline) Run(ctx context.Context, id uuid.UUID) error {
	snap, err := p.store.Lookup(id)
	if err != nil {
		return err
	}
	start := time.Now()

	kind, err := p.Classify(snap.SourceURL)
	if err != nil {
		p.fail(id, err)
		return err
	}
	if _, err := p.store.Update(id, func(j *job.Job) error {
		if err := j.Classify(kind); err != nil {
			return err
		}
		return j.Advance(job.StatusQueued, 10, "starting")
	}); err != nil {
		return stopped(err)
	}

	r := &run{jobID: id, url: snap.SourceURL}
	if p.fromCache(ctx, r) {
		return p.complete(ctx, r, true, start)
	}

	for _, st := range p.table[kind] {
		if err := ctx.Err(); err != nil {
			err = common.NewStageError(common.KindCancelled, "job was cancelled", err)
			p.fail(id, err)
			return err
		}
		if _, err := p.store.Update(id, func(j *job.Job) error {
			return j.Advance(st.status, st.progress, st.step)
		}); err != nil {
			return stopped(err)
		}
		slog.Info("job stage started", "job_id", id, "kind", kind, "status", st.status)

		if err := st.exec(ctx, r); err != nil {
			p.fail(id, err)
			slog.Warn("job failed",
				"job_id", id,
				"status", st.status,
				"kind", common.KindOf(err),
				"err", err)
			return err
		}
	}
	return p.complete(ctx, r, false, start)
}

func (p *Pipeline) acquire(a stages.Acquirer) func(ctx context.Context, r *run) error {
	return func(ctx context.Context, r *run) error {
		if a == nil {
			return common.NewStageError(common.KindInternal, "no acquirer configured for this source", nil)
		}
		raw, err := a.Fetch(ctx, r.url)
		if err != nil {
			return err
		}
		r.raw = raw
		return nil
	}
}

func (p *Pipeline) transcribe(ctx context.Context, r *run) error {
	if r.raw == nil || r.raw.Audio == nil {
		return common.NewStageError(common.KindContentUnavailable, "no audio to transcribe", nil)
	}
	text, err := p.transcriber.Transcribe(ctx, *r.raw.Audio)
	p.dropArtifact(ctx, r)
	if err != nil {
		return err
	}
	r.raw.Text = text
	r.raw.Audio.Data = nil
	return nil
}

func (p *Pipeline) extract(ctx context.Context, r *run) error {
	if r.raw == nil {
		return common.NewStageError(common.KindInternal, "nothing was acquired", nil)
	}
	rec, err := p.extractor.Structure(ctx, r.raw)
	if err != nil {
		return err
	}
	r.recipe = rec
	return nil
}

func (p *Pipeline) complete(ctx context.Context, r *run, cached bool, start time.Time) error {
	res := &job.Result{
		Recipe:        r.recipe,
		FormattedText: recipe.Format(r.recipe, r.url),
		Cached:        cached,
	}
	snap, err := p.store.Update(r.jobID, func(j *job.Job) error {
		return j.Complete(res)
	})
	if err != nil {
		return stopped(err)
	}
	slog.Info("job completed",
		"job_id", r.jobID,
		"title", r.recipe.Title,
		"cached", cached,
		"took", time.Since(start).Round(time.Millisecond))

	bg := context.WithoutCancel(ctx)
	if p.cache != nil && !cached {
		if err := p.cache.Put(bg, r.url, r.recipe); err != nil {
			slog.Warn("failed to cache recipe", "job_id", r.jobID, "err", err)
		}
	}
	if p.archive != nil {
		if err := p.archive.SaveRecipe(bg, snap); err != nil {
			slog.Warn("failed to archive recipe", "job_id", r.jobID, "err", err)
		}
	}
	return nil
}

func (p *Pipeline) fromCache(ctx context.Context, r *run) bool {
	if p.cache == nil {
		return false
	}
	rec, err := p.cache.Get(ctx, r.url)
	if err != nil {
		if !errors.Is(err, common.ErrCacheMiss) {
			slog.Warn("recipe cache lookup failed", "job_id", r.jobID, "err", err)
		}
		return false
	}
	r.recipe = rec
	return true
}

// stopped reports a transition refused because the job was already
// finished elsewhere, which only happens when it was cancelled, or was
// deleted after being cancelled.
func stopped(err error) error {
	if gone(err) {
		return common.NewStageError(common.KindCancelled, "job was cancelled", err)
	}
	return err
}

func gone(err error) bool {
	return errors.Is(err, common.ErrJobTerminal) || errors.Is(err, common.ErrJobNotFound)
}

// fail writes the failure unless the job already reached a terminal state
// or was deleted.
func (p *Pipeline) fail(id uuid.UUID, cause error) {
	kind := common.KindOf(cause)
	msg := common.MessageOf(cause)
	_, err := p.store.Update(id, func(j *job.Job) error {
		return j.Fail(kind, msg)
	})
	if err != nil && !gone(err) {
		slog.Error("failed to record job failure", "job_id", id, "err", err)
	}
}

func (p *Pipeline) dropArtifact(ctx context.Context, r *run) {
	if p.artifacts == nil || r.raw.AudioKey == "" {
		return
	}
	if err := p.artifacts.DeleteFile(context.WithoutCancel(ctx), r.raw.AudioKey); err != nil {
		slog.Warn("failed to delete audio artifact", "job_id", r.jobID, "key", r.raw.AudioKey, "err", err)
		return
	}
	r.raw.AudioKey = ""
}
