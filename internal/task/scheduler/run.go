package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	logx "surveybot/pkg/logx"
)

const defaultRunTimeout = 5 * time.Minute

// dispatch starts one run of a job unless the overlap policy says otherwise.
func (s *Service) dispatch(name string, timeout time.Duration, job Job, opt TaskOptions, state *runState) {
	sup := s.sup.Load()
	if sup == nil {
		return
	}
	if !state.tryAcquire(opt.Overlap) {
		atomic.AddUint64(&s.skipped, 1)
		s.log.Debug("trigger skipped; previous run still in flight", logx.String("schedule", name))
		return
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	sup.Go0("job."+name, func(ctx context.Context) {
		defer state.release()
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := job(cctx)
		took := time.Since(start)
		s.record(HistoryItem{Name: name, Started: start, Duration: took, Error: errString(err)})
		if err != nil {
			s.log.Warn("job failed", logx.String("schedule", name), logx.Duration("took", took), logx.Err(err))
			return
		}
		s.log.Debug("job finished", logx.String("schedule", name), logx.Duration("took", took))
	})
}

func (s *Service) record(it HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = 20
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - size; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
