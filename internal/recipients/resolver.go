// Package recipients expands saved groups and manual selections into
// deduplicated destination lists.
package recipients

import (
	"context"
	"errors"
	"strings"

	"surveybot/internal/ledger"
	logx "surveybot/pkg/logx"
)

// GroupSource is the subset of the ledger the resolver needs.
type GroupSource interface {
	Group(ctx context.Context, name string) (ledger.Group, error)
}

type Resolver struct {
	groups GroupSource
	log    logx.Logger
}

func New(groups GroupSource, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{groups: groups, log: log.With(logx.String("comp", "recipients"))}
}

// ResolveGroup returns the member ids of a group, or nil when it does not exist.
func (r *Resolver) ResolveGroup(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	g, err := r.groups.Group(ctx, name)
	if errors.Is(err, ledger.ErrNotFound) {
		r.log.Debug("group not found", logx.String("group", name))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

// ExpandRecipients unions manual ids with the group's members. Order follows
// first appearance; callers must not rely on it.
func (r *Resolver) ExpandRecipients(ctx context.Context, manual []string, group string) ([]string, error) {
	members, err := r.ResolveGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(manual)+len(members))
	out := make([]string, 0, len(manual)+len(members))
	for _, list := range [][]string{manual, members} {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// Recipients is the typed form of ExpandRecipients: group members are added as
// individuals, and a manual entry wins over a group member with the same id.
func (r *Resolver) Recipients(ctx context.Context, manual []ledger.Recipient, group string) ([]ledger.Recipient, error) {
	members, err := r.ResolveGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(manual)+len(members))
	out := make([]ledger.Recipient, 0, len(manual)+len(members))
	add := func(rc ledger.Recipient) {
		rc.ID = strings.TrimSpace(rc.ID)
		if rc.ID == "" {
			return
		}
		switch rc.Kind {
		case ledger.KindIndividual, ledger.KindChannel:
		case "":
			rc.Kind = ledger.KindIndividual
		default:
			r.log.Debug("recipient with unknown kind dropped", logx.String("id", rc.ID), logx.String("kind", string(rc.Kind)))
			return
		}
		if _, ok := seen[rc.ID]; ok {
			return
		}
		seen[rc.ID] = struct{}{}
		out = append(out, rc)
	}
	for _, rc := range manual {
		add(rc)
	}
	for _, id := range members {
		add(ledger.Recipient{ID: id, Kind: ledger.KindIndividual})
	}
	return out, nil
}
