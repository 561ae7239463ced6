package scheduler

import (
	"sort"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := append([]scheduleDef(nil), s.defs...)
	c := s.c
	loc := s.loc
	tz := s.cfg.Timezone
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	snap := Snapshot{Running: c != nil, Timezone: tz, Skipped: atomic.LoadUint64(&s.skipped)}
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, StartupSpread: d.startupSpread}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}

	s.tmu.Lock()
	for name := range s.once {
		snap.Once = append(snap.Once, name)
	}
	s.tmu.Unlock()
	sort.Strings(snap.Once)

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
