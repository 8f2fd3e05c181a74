package sync

import (
	"context"
	"time"
)

// ComponentJob runs the periodic sync of one entity kind
type ComponentJob struct {
	service   *Service
	component string
	interval  time.Duration
}

// NewComponentJob creates the periodic job of component. A zero interval
// lets the scheduler apply its default.
func NewComponentJob(service *Service, component string, interval time.Duration) *ComponentJob {
	return &ComponentJob{service: service, component: component, interval: interval}
}

// Jobs returns one job per registered handler
func (s *Service) Jobs() []*ComponentJob {
	var jobs []*ComponentJob
	for _, component := range s.Components() {
		h, err := s.Handler(component)
		if err != nil {
			continue
		}
		var interval time.Duration
		if ih, ok := h.(IntervalHandler); ok {
			interval = ih.SyncInterval()
		}
		jobs = append(jobs, NewComponentJob(s, component, interval))
	}
	return jobs
}

func (j *ComponentJob) Name() string { return "sync:" + j.component }

func (j *ComponentJob) Interval() time.Duration { return j.interval }

func (j *ComponentJob) UsesNetwork() bool { return true }

func (j *ComponentJob) IsSync() bool { return true }

func (j *ComponentJob) CanManualSync() bool { return true }

// Execute syncs every pending entity of the component
func (j *ComponentJob) Execute(ctx context.Context, siteID string, force bool) error {
	summary, err := j.service.SyncComponent(ctx, j.component, siteID, force)
	if err != nil {
		return err
	}
	return summary.Err()
}
