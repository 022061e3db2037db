// Package jobmgr keeps named, cancellable jobs in memory. A job is either a
// delayed task (Schedule) or a long running goroutine (StartAsync). Names are
// unique: scheduling a name that is already pending replaces the old task.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(nil)
//	jm.Schedule("idle:"+guildID, time.Minute, func(ctx context.Context) error {
//	    return destroy(ctx, guildID)
//	})
//
//	// later, before any blocking work
//	jm.Cancel("idle:" + guildID)
package jobmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Job represents a pending or running unit of work.
type Job struct {
	Name    string
	Due     time.Time // zero for StartAsync jobs
	cancel  context.CancelFunc
	timer   *time.Timer
	version uint64
}

// StatusReporter receives lifecycle events for jobs, e.g.
//
//	scheduled:idle:123
//	cancelled:idle:123
//	error:idle:123:node unavailable
//	done:idle:123
type StatusReporter func(string)

// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	version  uint64
	Reporter StatusReporter
}

// NewManager creates a new Manager. The reporter may be nil.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]*Job),
		Reporter: reporter,
	}
}

// Schedule runs fn once after delay unless the job is cancelled or replaced
// first. Returns true when an existing job of the same name was replaced.
func (m *Manager) Schedule(name string, delay time.Duration, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	replaced := m.cancelLocked(name)
	m.version++
	job := &Job{Name: name, Due: time.Now().Add(delay), cancel: cancel, version: m.version}
	m.jobs[name] = job
	job.timer = time.AfterFunc(delay, func() { m.fire(ctx, job, fn) })
	m.mu.Unlock()

	m.report("scheduled:" + name)
	return replaced
}

func (m *Manager) fire(ctx context.Context, job *Job, fn func(ctx context.Context) error) {
	m.mu.Lock()
	current, ok := m.jobs[job.Name]
	if !ok || current.version != job.version {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.finish(job, fn(ctx))
}

// StartAsync runs fn in its own goroutine. It fails if a job with the same
// name is pending or running.
func (m *Manager) StartAsync(name string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job '%s' is already running", name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.version++
	job := &Job{Name: name, cancel: cancel, version: m.version}
	m.jobs[name] = job
	m.mu.Unlock()

	go func() {
		m.report("running:" + name)
		m.finish(job, fn(ctx))
	}()
	return nil
}

func (m *Manager) finish(job *Job, err error) {
	m.mu.Lock()
	if current, ok := m.jobs[job.Name]; ok && current.version == job.version {
		delete(m.jobs, job.Name)
	}
	m.mu.Unlock()
	job.cancel()

	if err != nil {
		m.report("error:" + job.Name + ":" + err.Error())
	} else {
		m.report("done:" + job.Name)
	}
}

// Cancel stops a pending job and cancels the context of a running one.
// It returns false when no job of that name exists. Cancel never blocks on
// the job itself.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	ok := m.cancelLocked(name)
	m.mu.Unlock()
	if ok {
		m.report("cancelled:" + name)
	}
	return ok
}

func (m *Manager) cancelLocked(name string) bool {
	job, ok := m.jobs[name]
	if !ok {
		return false
	}
	if job.timer != nil {
		job.timer.Stop()
	}
	job.cancel()
	delete(m.jobs, name)
	return true
}

// Pending reports whether a job with that name exists.
func (m *Manager) Pending(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Shutdown cancels every job.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}
	for _, name := range names {
		m.cancelLocked(name)
	}
	m.mu.Unlock()
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
