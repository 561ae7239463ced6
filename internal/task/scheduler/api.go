package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "surveybot/pkg/logx"
)

// AddSchedule parses schedule and registers a cron or interval job.
//
// Supported formats:
//   - Cron: "*/5 * * * *", "@hourly", "@every 15m"
//   - Interval duration: "15m", "2h30m"
//   - Interval HH:MM: "00:15" (15 minutes), "02:30"
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	return s.AddScheduleOpt(name, schedule, timeout, TaskOptions{}, job)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt TaskOptions, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		return s.AddIntervalOpt(name, ps.Every, timeout, opt, job)
	}
	return s.AddCronOpt(name, ps.Cron, timeout, opt, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	return s.AddCronOpt(name, spec, timeout, TaskOptions{}, job)
}

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.register(name, spec, timeout, opt, job)
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	return s.AddIntervalOpt(name, every, timeout, TaskOptions{}, job)
}

func (s *Service) AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.register(name, "@every "+every.String(), timeout, opt, job)
}

// register upserts by name so hot reloads never duplicate a schedule.
func (s *Service) register(name, spec string, timeout time.Duration, opt TaskOptions, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	s.removeOnce(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &runState{},
	})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", spec),
		logx.Duration("timeout", timeout),
		logx.Duration("startup_spread", d.startupSpread),
	)
	return nil
}

// AddOnce runs job once at the given time (immediately if in the past).
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() || job == nil {
		return errors.New("at and job required")
	}
	s.mu.Lock()
	s.removeScheduleLocked(name)
	running := s.c != nil
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old := s.once[name]; old != nil && old.timer != nil {
		old.timer.Stop()
	}
	s.ver++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.ver}
	s.once[name] = d
	if running {
		s.armLocked(name, d)
	}
	return nil
}

// Remove unschedules everything registered under name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// armOnce (re)creates timers for pending one-shot jobs.
func (s *Service) armOnce() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for name, d := range s.once {
		s.armLocked(name, d)
	}
}

func (s *Service) armLocked(name string, d *onceDef) {
	ver := d.ver
	d.timer = time.AfterFunc(max(0, time.Until(d.at)), func() {
		s.tmu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()
		s.dispatch(name, d.timeout, d.job, TaskOptions{Overlap: OverlapAllow}, &runState{})
	})
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	spec := strings.TrimSpace(d.spec)
	name, timeout, run, opt, state := d.name, d.timeout, d.job, d.opt, d.state
	job := cron.FuncJob(func() { s.dispatch(name, timeout, run, opt, state) })

	// Interval schedules get a startup spread so they do not all fire at once.
	if every, ok := strings.CutPrefix(spec, "@every"); ok {
		if dur, err := time.ParseDuration(strings.TrimSpace(every)); err == nil && dur > 0 {
			sched, jitter := intervalWithSpread(dur, time.Now().In(s.loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	d.startupSpread = 0
	eid, err := s.c.AddJob(spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}
