package eventloop

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of cooperative work owned by a Scheduler. Poll runs on the
// scheduler's goroutine, must return promptly, and reports done once the
// task has settled (successfully when err is nil).
type Task interface {
	Poll() (done bool, err error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() (bool, error)

// Poll calls f.
func (f TaskFunc) Poll() (bool, error) { return f() }

// Deadliner is implemented by tasks that must be polled again at a point in
// time even if nothing wakes the scheduler (timers, boot timeout).
type Deadliner interface {
	Deadline() (time.Time, bool)
}

// Join is the settlement handle of a spawned task.
type Join struct {
	name    string
	task    Task
	settled bool
	err     error
}

// Name returns the name the task was spawned with.
func (j *Join) Name() string { return j.name }

// Settled reports whether the task has finished.
func (j *Join) Settled() bool { return j.settled }

// Err returns the task's error once settled.
func (j *Join) Err() error { return j.err }

// Scheduler is a single-goroutine cooperative task set. Every method except
// Wake must be called from the goroutine that owns it.
type Scheduler struct {
	wake    chan struct{}
	tasks   []*Join
	spawned []*Join // spawned while a tick is running
	ticking bool
	ticks   uint64
	logger  *zap.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Spawn adds t to the task set. It is first polled on the next tick.
func (s *Scheduler) Spawn(name string, t Task) *Join {
	j := &Join{name: name, task: t}
	if s.ticking {
		s.spawned = append(s.spawned, j)
	} else {
		s.tasks = append(s.tasks, j)
	}
	return j
}

// Wake asks the scheduler to run another tick. Safe from any goroutine;
// wake-ups coalesce.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Tick polls every live task once, in spawn order, and drops the ones that
// settled.
func (s *Scheduler) Tick() {
	s.ticks++
	s.ticking = true
	live := s.tasks[:0]
	for _, j := range s.tasks {
		if j.settled {
			continue
		}
		done, err := j.task.Poll()
		if done {
			j.settled = true
			j.err = err
			s.logger.Debug("task settled", zap.String("task", j.name), zap.Error(err))
			continue
		}
		live = append(live, j)
	}
	for i := len(live); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = append(live, s.spawned...)
	s.spawned = nil
	s.ticking = false
}

// Ticks returns the number of ticks run so far.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Len returns the number of live tasks.
func (s *Scheduler) Len() int { return len(s.tasks) }

// RunUntil ticks until one of joins settles and returns it (first settled
// wins; ties go to the earliest argument). Between ticks it parks until a
// Wake, the earliest task deadline, or ctx is done.
func (s *Scheduler) RunUntil(ctx context.Context, joins ...*Join) (*Join, error) {
	for {
		for _, j := range joins {
			if j.settled {
				return j, nil
			}
		}
		s.Tick()
		for _, j := range joins {
			if j.settled {
				return j, nil
			}
		}
		if err := s.park(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *Scheduler) park(ctx context.Context) error {
	var timerC <-chan time.Time
	if deadline, ok := s.nextDeadline(); ok {
		wait := time.Until(deadline)
		if wait <= 0 {
			// Already due; tick again, but let ctx win first.
			return ctx.Err()
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-s.wake:
		return nil
	case <-timerC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) nextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, j := range s.tasks {
		d, ok := j.task.(Deadliner)
		if !ok {
			continue
		}
		t, ok := d.Deadline()
		if !ok {
			continue
		}
		if !found || t.Before(next) {
			next = t
			found = true
		}
	}
	return next, found
}
