package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-dashboard/internal/domain"
	"go.uber.org/zap"
)

// Poller runs ingestion cycles on a fixed cadence: fetch projects, fetch
// pipelines for the most recently active subset, enrich, summarize, then
// publish everything into the sink as one atomic operation. The sink lock
// is never held during I/O; each cycle works on a local disposable set.
type Poller struct {
	log   *zap.Logger
	gl    domain.GitlabClient
	sink  domain.StateSink
	every time.Duration

	mu           sync.RWMutex
	projectLimit int

	cycle int64

	newBackOff func() backoff.BackOff // injectable for tests
}

func New(log *zap.Logger, gl domain.GitlabClient, sink domain.StateSink, every time.Duration, projectLimit int) *Poller {
	return &Poller{
		log:          log,
		gl:           gl,
		sink:         sink,
		every:        every,
		projectLimit: projectLimit,
		newBackOff:   defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

// UpdateProjectLimit swaps the per-cycle project cap, used by config hot
// reload. Takes effect on the next cycle.
func (p *Poller) UpdateProjectLimit(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.projectLimit = n
	p.log.Info("project limit updated", zap.Int("limit", n))
}

func (p *Poller) limit() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.projectLimit
}

// Run executes one cycle immediately, then one per tick until the context
// is cancelled. Cancellation interrupts the wait between cycles; a cycle
// already in flight is abandoned by its own context checks, never
// partially published.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.every)
	defer t.Stop()

	_ = p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single ingestion cycle. Any fetch failure marks the
// sink with an error and abandons the cycle; previously published data
// stays servable.
func (p *Poller) RunOnce(ctx context.Context) error {
	p.cycle++
	log := p.log.With(zap.Int64("cycle", p.cycle))
	started := time.Now()

	projects, err := p.fetchProjects(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.sink.MarkError(fmt.Sprintf("project fetch failed: %v", err))
		}
		log.Warn("cycle aborted", zap.Error(err))
		return err
	}

	subset := mostRecentlyActive(projects, p.limit())

	var pipelines []domain.Pipeline
	for _, pr := range subset {
		pls, err := p.gl.ProjectPipelines(ctx, pr.ID)
		if err != nil {
			if ctx.Err() == nil {
				p.sink.MarkError(fmt.Sprintf("pipeline fetch failed for project %d: %v", pr.ID, err))
			}
			log.Warn("cycle aborted",
				zap.Int64("project", pr.ID),
				zap.Error(err),
			)
			return err
		}
		pipelines = append(pipelines, pls...)
	}

	enriched := domain.Enrich(projects, pipelines)
	summary := domain.Summarize(enriched, pipelines)
	p.sink.Publish(enriched, pipelines, summary)

	log.Info("cycle complete",
		zap.Int("projects", len(projects)),
		zap.Int("polled", len(subset)),
		zap.Int("pipelines", len(pipelines)),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// fetchProjects retries transient failures within a short, bounded window.
// Retry policy lives here rather than in the client so a one-shot caller
// of the client gets exactly one request.
func (p *Poller) fetchProjects(ctx context.Context) ([]domain.Project, error) {
	var projects []domain.Project
	op := func() error {
		ps, err := p.gl.Projects(ctx)
		if err != nil {
			return err
		}
		projects = ps
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(p.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return projects, nil
}

// mostRecentlyActive returns up to n projects ordered by last activity,
// newest first. The full input is left untouched.
func mostRecentlyActive(projects []domain.Project, n int) []domain.Project {
	out := append([]domain.Project(nil), projects...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
