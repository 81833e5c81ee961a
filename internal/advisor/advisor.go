// Package advisor turns the current simulation state into a deduplicated,
// dismissible, prioritized list of actionable suggestions. The rules are
// stateless; the dismissed-set is the only persistent mutable state.
package advisor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"fluxgrid/internal/persistence"
	"fluxgrid/internal/sim"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Suggestion is one actionable recommendation. The ID is a fixed slug per
// rule so dismissal survives regeneration.
type Suggestion struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Priority       Priority `json:"priority"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Impact         string   `json:"impact"`
	Action         string   `json:"action"`
	EstImprovement float64  `json:"estimated_improvement_pct"`
	Implementable  bool     `json:"implementable"`
}

// Stats are the aggregate counts exposed alongside the list.
type Stats struct {
	Total          int     `json:"total"`
	Implementable  int     `json:"implementable"`
	MaxImprovement float64 `json:"max_improvement_pct"`
}

// Acceptance is the record written when an implementable suggestion is
// applied.
type Acceptance struct {
	SuggestionID string    `json:"suggestion_id"`
	AcceptedAt   time.Time `json:"accepted_at"`
}

// Advisor owns the dismissed-set and the latest generated list.
type Advisor struct {
	mu        sync.Mutex
	dismissed map[string]struct{}
	current   []Suggestion
	rec       *persistence.Tiered
	now       func() time.Time
}

func New(rec *persistence.Tiered) *Advisor {
	return &Advisor{
		dismissed: make(map[string]struct{}),
		rec:       rec,
		now:       time.Now,
	}
}

// Recompute regenerates the suggestion list from the state snapshot and the
// predictor's readiness score, then filters out dismissed ids.
func (a *Advisor) Recompute(st sim.State, readiness float64) []Suggestion {
	generated := generate(st, readiness)

	a.mu.Lock()
	defer a.mu.Unlock()

	filtered := generated[:0]
	for _, s := range generated {
		if _, gone := a.dismissed[s.ID]; gone {
			continue
		}
		filtered = append(filtered, s)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return rank(filtered[i].Priority) < rank(filtered[j].Priority)
	})
	a.current = filtered
	return a.copyCurrent()
}

// Suggestions returns the latest generated list.
func (a *Advisor) Suggestions() []Suggestion {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyCurrent()
}

// HighPriority returns the high-priority subset of the latest list.
func (a *Advisor) HighPriority() []Suggestion {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Suggestion
	for _, s := range a.current {
		if s.Priority == PriorityHigh {
			out = append(out, s)
		}
	}
	return out
}

// Aggregate returns simple counts over the latest list.
func (a *Advisor) Aggregate() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var st Stats
	st.Total = len(a.current)
	for _, s := range a.current {
		if s.Implementable {
			st.Implementable++
		}
		if s.EstImprovement > st.MaxImprovement {
			st.MaxImprovement = s.EstImprovement
		}
	}
	return st
}

// Dismiss suppresses the id from every future regeneration until the set is
// cleared.
func (a *Advisor) Dismiss(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissed[id] = struct{}{}
	kept := a.current[:0]
	for _, s := range a.current {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	a.current = kept
}

// ClearDismissed empties the dismissed-set; suppressed suggestions reappear
// on the next recompute.
func (a *Advisor) ClearDismissed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissed = make(map[string]struct{})
}

// Apply accepts an implementable suggestion from the current list,
// dismissing it as a side effect and recording the acceptance best-effort.
// Non-implementable suggestions cannot be applied.
func (a *Advisor) Apply(id string) error {
	a.mu.Lock()
	var found *Suggestion
	for i := range a.current {
		if a.current[i].ID == id {
			found = &a.current[i]
			break
		}
	}
	if found == nil {
		a.mu.Unlock()
		return fmt.Errorf("advisor: unknown suggestion %q", id)
	}
	if !found.Implementable {
		a.mu.Unlock()
		return fmt.Errorf("advisor: suggestion %q requires manual action", id)
	}
	a.dismissed[id] = struct{}{}
	kept := a.current[:0]
	for _, s := range a.current {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	a.current = kept
	rec := a.rec
	now := a.now()
	a.mu.Unlock()

	if rec != nil {
		rec.Append(persistence.Record{
			Kind:    persistence.KindAcceptance,
			At:      now,
			Payload: Acceptance{SuggestionID: id, AcceptedAt: now},
		})
	}
	return nil
}

func (a *Advisor) copyCurrent() []Suggestion {
	out := make([]Suggestion, len(a.current))
	copy(out, a.current)
	return out
}

func rank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}
