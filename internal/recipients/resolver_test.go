package recipients

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"surveybot/internal/ledger"
	"surveybot/internal/storage"
	logx "surveybot/pkg/logx"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	l := ledger.New(storage.NewMemory(), logx.Nop())
	if err := l.CreateGroup(context.Background(), ledger.Group{Name: "team", Members: []string{"U2", "U3", "U1"}}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return New(l, logx.Nop())
}

func TestResolveGroup(t *testing.T) {
	t.Parallel()
	r := newResolver(t)
	ctx := context.Background()
	got, err := r.ResolveGroup(ctx, "team")
	if err != nil || !reflect.DeepEqual(got, []string{"U2", "U3", "U1"}) {
		t.Fatalf("ResolveGroup=%v,%v", got, err)
	}
	got, err = r.ResolveGroup(ctx, "missing")
	if err != nil || len(got) != 0 {
		t.Fatalf("missing group=%v,%v", got, err)
	}
}

func TestExpandRecipientsDedups(t *testing.T) {
	t.Parallel()
	r := newResolver(t)
	got, err := r.ExpandRecipients(context.Background(), []string{"U1", "U9", "U1", " "}, "team")
	if err != nil {
		t.Fatalf("ExpandRecipients: %v", err)
	}
	if want := []string{"U1", "U9", "U2", "U3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got, _ = r.ExpandRecipients(context.Background(), []string{"U1"}, "")
	if !reflect.DeepEqual(got, []string{"U1"}) {
		t.Fatalf("no group: %v", got)
	}
}

func TestRecipientsTyped(t *testing.T) {
	t.Parallel()
	r := newResolver(t)
	manual := []ledger.Recipient{
		{ID: "C1", Kind: ledger.KindChannel, ThreadRef: "42"},
		{ID: "U2", Kind: ledger.KindIndividual, ThreadRef: "7"},
		{ID: "X", Kind: "robot"},
		{ID: "U5"},
	}
	got, err := r.Recipients(context.Background(), manual, "team")
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	want := []ledger.Recipient{
		{ID: "C1", Kind: ledger.KindChannel, ThreadRef: "42"},
		{ID: "U2", Kind: ledger.KindIndividual, ThreadRef: "7"},
		{ID: "U5", Kind: ledger.KindIndividual},
		{ID: "U3", Kind: ledger.KindIndividual},
		{ID: "U1", Kind: ledger.KindIndividual},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
}

type brokenGroups struct{}

func (brokenGroups) Group(context.Context, string) (ledger.Group, error) {
	return ledger.Group{}, errors.New("store unavailable")
}

func TestResolveGroupPropagatesStoreErrors(t *testing.T) {
	t.Parallel()
	r := New(brokenGroups{}, logx.Nop())
	if _, err := r.ExpandRecipients(context.Background(), nil, "team"); err == nil {
		t.Fatal("expected error")
	}
}
