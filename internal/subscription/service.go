// Package subscription keeps one recurring job per updating subscription and
// turns each fire into a SubscriptionTriggered event.
package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/metrics"
	"github.com/faithleysath/pt-web-automation/internal/model"
	"github.com/faithleysath/pt-web-automation/internal/scheduler"
	"github.com/faithleysath/pt-web-automation/internal/store"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

// Repository is the read side of the subscription store used here.
type Repository interface {
	GetByID(ctx context.Context, id string) (*model.Subscription, error)
	GetByStatus(ctx context.Context, status model.Status) ([]model.Subscription, error)
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ev eventbus.Event) error
}

// Service owns the subscription jobs.
type Service struct {
	ctx     context.Context
	repo    Repository
	bus     Publisher
	log     logger.Logger
	metrics *metrics.Collector
	sched   *scheduler.Scheduler
}

// New creates a Service whose trigger engine lives until ctx is cancelled.
// A nil parser selects the gronx dialect.
func New(ctx context.Context, repo Repository, bus Publisher, parser scheduler.Parser, l logger.Logger, m *metrics.Collector) *Service {
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Service{
		ctx:     ctx,
		repo:    repo,
		bus:     bus,
		log:     l,
		metrics: m,
	}
	s.sched = scheduler.New(ctx, parser, l, s.onTrigger)
	return s
}

// Start installs a job for every subscription in the updating state. A job
// already installed for the same id is replaced, never duplicated.
func (s *Service) Start(ctx context.Context) error {
	subs, err := s.repo.GetByStatus(ctx, model.StatusUpdating)
	if err != nil {
		return fmt.Errorf("load updating subscriptions: %w", err)
	}
	for i := range subs {
		s.install(&subs[i])
	}
	s.log.Info("subscription: %d jobs active", s.sched.Len())
	return nil
}

// Stop removes every job.
func (s *Service) Stop() {
	n := s.sched.RemoveAll()
	s.metrics.SetActiveJobs(0)
	s.log.Info("subscription: stopped %d jobs", n)
}

// UpdateSubscription re-reads id and reconciles its job with the stored
// state: a subscription that is no longer updating loses its job, an
// updating one gets a fresh job built from its current expression.
func (s *Service) UpdateSubscription(ctx context.Context, id string) error {
	sub, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		s.log.Warning("subscription: %s not found", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload subscription %s: %w", id, err)
	}

	if sub.Status != model.StatusUpdating {
		if s.sched.Remove(id) {
			s.log.Info("subscription: %s is now %s, job stopped", id, sub.Status)
		}
		s.metrics.SetActiveJobs(s.sched.Len())
		return nil
	}
	s.install(sub)
	return nil
}

// HasJob reports whether a job is installed for id.
func (s *Service) HasJob(id string) bool {
	return s.sched.Has(id)
}

// Jobs lists the installed jobs.
func (s *Service) Jobs() []scheduler.JobInfo {
	return s.sched.Jobs()
}

func (s *Service) install(sub *model.Subscription) {
	replaced, err := s.sched.Add(sub.ID, sub.CronExpr)
	if err != nil {
		// Add leaves a previous job in place on error.
		s.sched.Remove(sub.ID)
		s.metrics.JobRejected()
		s.metrics.SetActiveJobs(s.sched.Len())
		s.log.Error("subscription: cannot schedule %s: %v", sub.ID, err)
		return
	}
	if replaced {
		s.log.Info("subscription: replaced job %s, cron: %s", sub.ID, sub.CronExpr)
	} else {
		s.log.Info("subscription: started job %s, cron: %s", sub.ID, sub.CronExpr)
	}
	s.metrics.SetActiveJobs(s.sched.Len())
}

// onTrigger runs on its own goroutine for every job fire.
func (s *Service) onTrigger(id string) {
	s.metrics.JobFired()
	sub, err := s.repo.GetByID(s.ctx, id)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		s.log.Warning("subscription: %s vanished, stopping job", id)
		s.sched.Remove(id)
		return
	}
	if err != nil {
		s.log.Error("subscription: load %s on trigger: %v", id, err)
		return
	}
	if sub.Status != model.StatusUpdating {
		s.log.Info("subscription: %s is %s, stopping job", id, sub.Status)
		s.sched.Remove(id)
		return
	}
	s.log.Info("subscription: triggered %s", id)
	if err := s.bus.Publish(eventbus.NewSubscriptionTriggered(sub.Clone())); err != nil {
		s.log.Error("subscription: publish trigger for %s: %v", id, err)
	}
}
