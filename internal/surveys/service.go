// Package surveys is the request-facing entry point used by chat handlers:
// survey creation, answer submission and group management.
package surveys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"surveybot/internal/eventbus"
	"surveybot/internal/idempotency"
	"surveybot/internal/ledger"
	"surveybot/internal/recipients"
	logx "surveybot/pkg/logx"
)

var (
	ErrAlreadyAnswered = errors.New("surveys: question already answered")
	ErrInvalidRequest  = errors.New("surveys: invalid request")
)

const releaseTimeout = 5 * time.Second

type Config struct {
	// IdempotencyTTL is how long an event id is remembered.
	IdempotencyTTL time.Duration
}

type Service struct {
	cfg      Config
	ledger   *ledger.Ledger
	resolver *recipients.Resolver
	idem     idempotency.Cache
	events   eventbus.Bus
	log      logx.Logger
	now      func() time.Time
}

func New(cfg Config, l *ledger.Ledger, r *recipients.Resolver, idem idempotency.Cache, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = idempotency.DefaultTTL
	}
	if idem == nil {
		idem = idempotency.NewMemory(0)
	}
	return &Service{
		cfg:      cfg,
		ledger:   l,
		resolver: r,
		idem:     idem,
		events:   eventbus.Nop{},
		log:      log.With(logx.String("comp", "surveys")),
		now:      time.Now,
	}
}

// SetEvents publishes successful writes to bus.
func (s *Service) SetEvents(bus eventbus.Bus) {
	if bus != nil {
		s.events = bus
	}
}

type CreateRequest struct {
	Name            string
	Creator         string
	Questions       []ledger.Question
	Recipients      []ledger.Recipient
	Group           string
	ReminderMessage string
	ReminderHours   int
}

// Create resolves recipients and writes a new survey.
// An error wrapping ledger.ErrPartialCreate means an empty table may remain.
func (s *Service) Create(ctx context.Context, req CreateRequest) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return fmt.Errorf("%w: empty survey name", ErrInvalidRequest)
	}
	if len(req.Questions) == 0 {
		return fmt.Errorf("%w: survey %q has no questions", ErrInvalidRequest, name)
	}
	headers := make([]string, 0, len(req.Questions))
	seen := map[string]struct{}{}
	for i, q := range req.Questions {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			return fmt.Errorf("%w: question %d is empty", ErrInvalidRequest, i)
		}
		if ledger.IsFixedHeader(text) {
			return fmt.Errorf("%w: question %q is a reserved column name", ErrInvalidRequest, text)
		}
		// Answers are addressed by header text.
		if _, dup := seen[text]; dup {
			return fmt.Errorf("%w: duplicate question %q", ErrInvalidRequest, text)
		}
		seen[text] = struct{}{}
		req.Questions[i].Text = text
		headers = append(headers, text)
	}
	if req.ReminderHours < 0 {
		return fmt.Errorf("%w: negative reminder interval", ErrInvalidRequest)
	}

	rcpts, err := s.resolver.Recipients(ctx, req.Recipients, req.Group)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	def, err := json.Marshal(ledger.Definition{Questions: req.Questions})
	if err != nil {
		return err
	}
	err = s.ledger.CreateSurvey(ctx, name, req.Creator, headers, ledger.Details{
		Recipients:      rcpts,
		ReminderMessage: req.ReminderMessage,
		ReminderHours:   req.ReminderHours,
		CreatedAt:       s.now(),
	}, string(def))
	if err != nil {
		return err
	}
	s.events.Publish(eventbus.Event{Type: eventbus.SurveyCreated, Survey: name, User: req.Creator, Data: len(rcpts)})
	return nil
}

type SubmitRequest struct {
	// EventID identifies the inbound event (callback id, message id).
	// Empty disables duplicate suppression.
	EventID string
	Survey  string
	User    string
	// Question is the header text; when empty, Index selects the question.
	Question string
	Index    int
	Answer   string
}

type Result struct {
	Duplicate bool
	Question  string
}

// Submit records one answer. A replayed event is reported as Duplicate and
// not written; an answered question is rejected with ErrAlreadyAnswered.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	if strings.TrimSpace(req.Survey) == "" || strings.TrimSpace(req.User) == "" {
		return Result{}, fmt.Errorf("%w: survey and user are required", ErrInvalidRequest)
	}
	log := s.log.With(logx.String("survey", req.Survey), logx.String("user", req.User))

	question := req.Question
	if question == "" {
		q, err := s.ledger.QuestionText(ctx, req.Survey, req.Index)
		if err != nil {
			return Result{}, err
		}
		question = q
	} else {
		ok, err := s.ledger.HasQuestion(ctx, req.Survey, question)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, fmt.Errorf("%w: question %q of %q", ledger.ErrNotFound, question, req.Survey)
		}
	}
	res := Result{Question: question}

	first, err := s.idem.Claim(ctx, req.EventID, s.cfg.IdempotencyTTL)
	if err != nil {
		// The answered check below still guards the write.
		log.Warn("idempotency claim failed", logx.String("event_id", req.EventID), logx.Err(err))
		first = true
	}
	if !first {
		log.Debug("duplicate event ignored", logx.String("event_id", req.EventID))
		res.Duplicate = true
		return res, nil
	}

	if err := s.record(ctx, req, question); err != nil {
		if !errors.Is(err, ErrAlreadyAnswered) {
			s.release(ctx, log, req.EventID)
		}
		return res, err
	}
	s.events.Publish(eventbus.Event{Type: eventbus.AnswerRecorded, Survey: req.Survey, User: req.User, Data: question})
	return res, nil
}

func (s *Service) record(ctx context.Context, req SubmitRequest, question string) error {
	answered, err := s.ledger.IsAnswered(ctx, req.Survey, req.User, question)
	if err != nil {
		return err
	}
	if answered {
		return ErrAlreadyAnswered
	}
	return s.ledger.UpsertResponse(ctx, req.Survey, req.User, question, req.Answer, s.now())
}

// release forgets a claimed event whose write failed, so the redelivery is
// written instead of being reported as a duplicate.
func (s *Service) release(ctx context.Context, log logx.Logger, eventID string) {
	if eventID == "" {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.idem.Release(rctx, eventID); err != nil {
		log.Warn("idempotency release failed", logx.String("event_id", eventID), logx.Err(err))
	}
}

// CreateGroup saves a named member list. Members are trimmed and deduplicated.
func (s *Service) CreateGroup(ctx context.Context, name, creator string, members []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty group name", ErrInvalidRequest)
	}
	ids, err := s.resolver.ExpandRecipients(ctx, members, "")
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: group %q has no members", ErrInvalidRequest, name)
	}
	for _, id := range ids {
		if strings.Contains(id, ",") {
			return fmt.Errorf("%w: member id %q contains a comma", ErrInvalidRequest, id)
		}
	}
	if err := s.ledger.CreateGroup(ctx, ledger.Group{Name: name, Creator: creator, Members: ids, CreatedAt: s.now()}); err != nil {
		return err
	}
	s.events.Publish(eventbus.Event{Type: eventbus.GroupCreated, User: creator, Data: name})
	return nil
}

func (s *Service) Group(ctx context.Context, name string) (ledger.Group, error) {
	return s.ledger.Group(ctx, strings.TrimSpace(name))
}

func (s *Service) DeleteGroup(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	n, err := s.ledger.DeleteGroup(ctx, name)
	if err != nil {
		return err
	}
	s.log.Debug("group deleted", logx.String("group", name), logx.Int("rows", n))
	s.events.Publish(eventbus.Event{Type: eventbus.GroupDeleted, Data: name})
	return nil
}
