package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Krish-Gupta07/Litmus-AI/internal/analysis"
	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

// stagePolicies makes the fatal/best-effort split explicit and auditable:
// a fatal stage aborts the attempt and drives the retry machinery, a
// best-effort stage logs and continues with its default. Progress values
// are the client-visible milestones reported after the stage completes.
var stagePolicies = []struct {
	name       string
	bestEffort bool
	progress   int
}{
	{name: "resolve_input", progress: 40},
	{name: "transform_query", progress: 60},
	{name: "retrieve_context", bestEffort: true},
	{name: "generate_answer", progress: 90},
	{name: "score_quality", bestEffort: true},
}

// pipelineState accumulates stage outputs across one attempt.
type pipelineState struct {
	job       *domain.Job
	started   time.Time
	text      string
	transform *analysis.TransformResult
	evidence  []string
	answer    *analysis.Answer
	score     int
}

// runPipeline executes one attempt. A nil error means every fatal stage
// succeeded and the composed result has been persisted.
func (p *Pool) runPipeline(ctx context.Context, job *domain.Job, log *zap.Logger) (*domain.Success, error) {
	if err := p.store.MarkRunning(ctx, job.ID); err != nil {
		log.Warn("system-of-record running write failed", zap.Error(err))
	}
	p.progress(ctx, job, 10, log)

	st := &pipelineState{job: job, started: time.Now()}
	for _, stage := range stagePolicies {
		// The worker does not self-kill mid-pipeline; lease expiry owns
		// requeueing. It cooperates by flagging overruns at stage
		// boundaries.
		if elapsed := time.Since(st.started); elapsed > p.opts.JobTimeout {
			log.Warn("job exceeded processing budget",
				zap.String("stage", stage.name),
				zap.Duration("elapsed", elapsed),
				zap.Duration("budget", p.opts.JobTimeout))
		}

		if err := p.runStage(ctx, stage.name, st); err != nil {
			if stage.bestEffort {
				log.Warn("best-effort stage degraded",
					zap.String("stage", stage.name), zap.Error(err))
				continue
			}
			return nil, err
		}
		if stage.progress > 0 {
			p.progress(ctx, job, stage.progress, log)
		}
	}

	success := &domain.Success{
		Title:            st.answer.Title,
		Description:      st.answer.Description,
		CredibilityScore: st.score,
		Sources:          st.answer.Sources,
	}
	if st.transform != nil {
		success.Topics = st.transform.Topics
		success.ReformulatedQuestion = st.transform.ReformulatedQuestion
	}

	if err := p.store.SaveResult(ctx, job.ID, domain.SuccessResult(*success)); err != nil {
		log.Warn("system-of-record result write failed", zap.Error(err))
	}
	p.progress(ctx, job, 100, log)
	return success, nil
}

func (p *Pool) runStage(ctx context.Context, name string, st *pipelineState) error {
	switch name {
	case "resolve_input":
		return p.resolveInput(ctx, st)
	case "transform_query":
		return p.transformQuery(ctx, st)
	case "retrieve_context":
		return p.retrieveContext(ctx, st)
	case "generate_answer":
		return p.generateAnswer(ctx, st)
	case "score_quality":
		return p.scoreQuality(ctx, st)
	default:
		return errors.Errorf("unknown stage %q", name)
	}
}

func (p *Pool) resolveInput(ctx context.Context, st *pipelineState) error {
	if st.job.InputKind != domain.InputURL {
		st.text = st.job.Payload
		return nil
	}
	scraped, err := p.collab.Scraper.Scrape(ctx, st.job.Payload)
	if err != nil {
		return errors.Wrap(domain.ErrScrapeFailed, err.Error())
	}
	if scraped == nil || scraped.Body == "" {
		return domain.ErrScrapeFailed
	}
	st.text = scraped.Body
	return nil
}

func (p *Pool) transformQuery(ctx context.Context, st *pipelineState) error {
	res, err := p.collab.Transformer.TransformQuery(ctx, st.text)
	if err != nil {
		return errors.Wrap(domain.ErrTransformFailed, err.Error())
	}
	if res == nil {
		return domain.ErrTransformFailed
	}
	st.transform = res
	return nil
}

func (p *Pool) retrieveContext(ctx context.Context, st *pipelineState) error {
	if p.collab.Retriever == nil {
		return nil
	}
	evidence, err := p.collab.Retriever.RetrieveContext(ctx, st.transform.ReformulatedQuestion)
	if err != nil {
		return err
	}
	st.evidence = evidence
	return nil
}

func (p *Pool) generateAnswer(ctx context.Context, st *pipelineState) error {
	answer, err := p.collab.Generator.GenerateAnswer(ctx, st.transform, st.evidence)
	if err != nil {
		return errors.Wrap(domain.ErrAnswerFailed, err.Error())
	}
	if answer == nil {
		return domain.ErrAnswerFailed
	}
	st.answer = answer
	return nil
}

func (p *Pool) scoreQuality(ctx context.Context, st *pipelineState) error {
	if p.collab.Scorer == nil {
		return nil
	}
	score, err := p.collab.Scorer.ScoreQuality(ctx, st.answer.Description, st.transform)
	if err != nil {
		return err
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	st.score = score
	return nil
}

func (p *Pool) progress(ctx context.Context, job *domain.Job, value int, log *zap.Logger) {
	if value > job.Progress {
		job.Progress = value
	}
	if err := p.broker.SetProgress(ctx, job.ID, value); err != nil {
		log.Warn("progress write failed", zap.Int("progress", value), zap.Error(err))
	}
}
