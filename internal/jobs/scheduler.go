package jobs

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	log    *log.Logger
	engine *cron.Cron
}

func NewScheduler(logger *log.Logger) *Scheduler {
	return &Scheduler{
		log:    logger,
		engine: cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger)))),
	}
}

// Register schedules job using a standard cron spec or descriptor such as
// "@every 1m".
func (s *Scheduler) Register(spec string, job cron.Job) error {
	if _, err := s.engine.AddJob(spec, job); err != nil {
		return fmt.Errorf("schedule job %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.log.Println("starting job scheduler")
	s.engine.Start()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.log.Println("stopping job scheduler")
	<-s.engine.Stop().Done()
}
