package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"surveybot/internal/runtime/supervisor"
	logx "surveybot/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone    string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	HistorySize int    // finished runs kept for Snapshot (default 20)
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type TaskOptions struct {
	Overlap OverlapPolicy
}

type Job func(ctx context.Context) error

// runState tracks whether a schedule has a run in flight.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire(policy OverlapPolicy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if policy == OverlapSkipIfRunning && s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	opt           TaskOptions
	entryID       cron.EntryID
	startupSpread time.Duration
	state         *runState
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef
	sup    atomic.Pointer[supervisor.Supervisor] // read by cron callbacks without mu

	tmu  sync.Mutex
	once map[string]*onceDef
	ver  uint64

	hmu     sync.Mutex
	history []HistoryItem
	skipped uint64
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type ScheduleInfo struct {
	Name          string
	Spec          string
	Timeout       time.Duration
	StartupSpread time.Duration
	Next          time.Time
	Prev          time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	Once      []string
	Skipped   uint64
	History   []HistoryItem
}
