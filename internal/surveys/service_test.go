package surveys

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"surveybot/internal/eventbus"
	"surveybot/internal/idempotency"
	"surveybot/internal/ledger"
	"surveybot/internal/recipients"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

func newService(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(storage.NewMemory(), logx.Nop())
	s := New(Config{}, l, recipients.New(l, logx.Nop()), idempotency.NewMemory(0), logx.Nop())
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return s, l
}

func createPulse(t *testing.T, s *Service) {
	t.Helper()
	if err := s.CreateGroup(context.Background(), "team", "Ana", []string{"U2", "U3"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	err := s.Create(context.Background(), CreateRequest{
		Name:            "Pulse",
		Creator:         "Ana",
		Questions:       []ledger.Question{{Text: "Mood?", Format: "choice", Options: []string{"ok", "meh"}}, {Text: "Notes?"}},
		Recipients:      []ledger.Recipient{{ID: "U1", Kind: ledger.KindIndividual}, {ID: "U2", Kind: ledger.KindIndividual}},
		Group:           "team",
		ReminderMessage: "Hi [firstName]",
		ReminderHours:   4,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestCreateExpandsRecipients(t *testing.T) {
	t.Parallel()
	s, l := newService(t)
	createPulse(t, s)
	ctx := context.Background()

	m, err := l.Meta(ctx, "Pulse")
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	var ids []string
	for _, r := range m.Recipients {
		ids = append(ids, r.ID)
	}
	if want := []string{"U1", "U2", "U3"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("recipients=%v want %v", ids, want)
	}
	if m.LastReminder.UnixMilli() != 1_700_000_000_000 || m.ReminderHours != 4 {
		t.Fatalf("meta=%+v", m)
	}
	def, err := l.Definition(ctx, "Pulse")
	if err != nil || len(def.Questions) != 2 || def.Questions[0].Options[1] != "meh" {
		t.Fatalf("definition=%+v,%v", def, err)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	cases := []CreateRequest{
		{Name: " ", Questions: []ledger.Question{{Text: "a"}}},
		{Name: "x"},
		{Name: "x", Questions: []ledger.Question{{Text: "a"}, {Text: " a "}}},
		{Name: "x", Questions: []ledger.Question{{Text: ""}}},
		{Name: "x", Questions: []ledger.Question{{Text: "a"}}, ReminderHours: -1},
		{Name: "x", Questions: []ledger.Question{{Text: "a"}, {Text: "User"}}},
		{Name: "x", Questions: []ledger.Question{{Text: " Timestamp "}}},
	}
	for i, req := range cases {
		if err := s.Create(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: got %v want ErrInvalidRequest", i, err)
		}
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	s, l := newService(t)
	createPulse(t, s)
	ctx := context.Background()

	res, err := s.Submit(ctx, SubmitRequest{EventID: "cb-1", Survey: "Pulse", User: "U1", Index: 0, Answer: "ok"})
	if err != nil || res.Duplicate || res.Question != "Mood?" {
		t.Fatalf("first submit=%+v,%v", res, err)
	}

	res, err = s.Submit(ctx, SubmitRequest{EventID: "cb-1", Survey: "Pulse", User: "U1", Question: "Mood?", Answer: "meh"})
	if err != nil || !res.Duplicate {
		t.Fatalf("replayed event=%+v,%v", res, err)
	}

	_, err = s.Submit(ctx, SubmitRequest{EventID: "cb-2", Survey: "Pulse", User: "U1", Question: "Mood?", Answer: "meh"})
	if !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("resubmit: got %v want ErrAlreadyAnswered", err)
	}

	if _, err := s.Submit(ctx, SubmitRequest{Survey: "Pulse", User: "U1", Question: "Notes?", Answer: "none"}); err != nil {
		t.Fatalf("second question: %v", err)
	}
	done, err := l.IsComplete(ctx, "Pulse", "U1")
	if err != nil || !done {
		t.Fatalf("IsComplete=%v,%v", done, err)
	}

	if _, err := s.Submit(ctx, SubmitRequest{Survey: "Pulse", User: "U1", Index: 5}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("bad index: got %v", err)
	}
}

func TestGroups(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()

	if err := s.CreateGroup(ctx, "ops", "Ana", []string{" ", ""}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty members: %v", err)
	}
	if err := s.CreateGroup(ctx, "ops", "Ana", []string{"U1", "U1", "U2"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.CreateGroup(ctx, "ops", "Ana", []string{"U3"}); !errors.Is(err, ledger.ErrGroupExists) {
		t.Fatalf("duplicate: %v", err)
	}
	g, err := s.Group(ctx, "ops")
	if err != nil || !reflect.DeepEqual(g.Members, []string{"U1", "U2"}) {
		t.Fatalf("Group=%+v,%v", g, err)
	}
	if err := s.DeleteGroup(ctx, "ops"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if err := s.DeleteGroup(ctx, "ops"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("delete twice: %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s.SetEvents(bus)

	createPulse(t, s)
	ctx := context.Background()
	if _, err := s.Submit(ctx, SubmitRequest{EventID: "e1", Survey: "Pulse", User: "U1", Question: "Notes?", Answer: "none"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Replays are not recorded, so they publish nothing.
	if _, err := s.Submit(ctx, SubmitRequest{EventID: "e1", Survey: "Pulse", User: "U1", Question: "Notes?", Answer: "none"}); err != nil {
		t.Fatalf("replayed Submit: %v", err)
	}
	if err := s.DeleteGroup(ctx, "team"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	want := []string{eventbus.GroupCreated, eventbus.SurveyCreated, eventbus.AnswerRecorded, eventbus.GroupDeleted}
	for i, typ := range want {
		select {
		case e := <-events:
			if e.Type != typ {
				t.Fatalf("event %d = %q, want %q", i, e.Type, typ)
			}
			if typ == eventbus.AnswerRecorded && (e.Survey != "Pulse" || e.User != "U1") {
				t.Fatalf("answer event = %+v", e)
			}
		default:
			t.Fatalf("missing event %d (%s)", i, typ)
		}
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

// flakyAppends fails the next n AppendRows calls.
type flakyAppends struct {
	storage.Store
	mu   sync.Mutex
	fail int
}

func (f *flakyAppends) AppendRows(ctx context.Context, name string, rows [][]string) (int, error) {
	f.mu.Lock()
	fail := f.fail > 0
	if fail {
		f.fail--
	}
	f.mu.Unlock()
	if fail {
		return 0, errors.New("sheets: 503 backend unavailable")
	}
	return f.Store.AppendRows(ctx, name, rows)
}

func TestSubmitRedeliveryAfterStoreFailure(t *testing.T) {
	t.Parallel()
	st := &flakyAppends{Store: storage.NewMemory()}
	l := ledger.New(st, logx.Nop())
	s := New(Config{}, l, recipients.New(l, logx.Nop()), idempotency.NewMemory(0), logx.Nop())
	createPulse(t, s)
	ctx := context.Background()

	st.mu.Lock()
	st.fail = 1
	st.mu.Unlock()
	req := SubmitRequest{EventID: "cb-9", Survey: "Pulse", User: "U1", Question: "Notes?", Answer: "none"}
	if _, err := s.Submit(ctx, req); err == nil {
		t.Fatal("expected store error")
	}

	res, err := s.Submit(ctx, req)
	if err != nil || res.Duplicate {
		t.Fatalf("redelivery=%+v,%v want a fresh write", res, err)
	}
	if ok, err := l.IsAnswered(ctx, "Pulse", "U1", "Notes?"); err != nil || !ok {
		t.Fatalf("IsAnswered=%v,%v", ok, err)
	}
	// Once written, the event id is claimed again.
	if res, err := s.Submit(ctx, req); err != nil || !res.Duplicate {
		t.Fatalf("replay after success=%+v,%v", res, err)
	}
}

func TestSubmitUnknownQuestion(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	createPulse(t, s)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	s.SetEvents(bus)
	ctx := context.Background()

	req := SubmitRequest{EventID: "cb-x", Survey: "Pulse", User: "U1", Question: "Favourite colour?", Answer: "blue"}
	if _, err := s.Submit(ctx, req); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("got %v want ledger.ErrNotFound", err)
	}
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	default:
	}

	// The event id was never claimed, so a corrected redelivery goes through.
	req.Question = "Notes?"
	if res, err := s.Submit(ctx, req); err != nil || res.Duplicate {
		t.Fatalf("corrected submit=%+v,%v", res, err)
	}
}
