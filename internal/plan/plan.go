// Package plan selects which additional bitplanes to fetch for a tolerance
// and byte budget.
//
// A plan only ever extends the retrieved prefix of each level, so requests
// are contiguous bitplane ranges starting at the level's retrieved count.
package plan

import (
	"fmt"

	"github.com/xtxerr/mdr/config"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
)

// Policy identifies a selection strategy.
type Policy uint8

const (
	PolicyGreedy     Policy = 1
	PolicyRoundRobin Policy = 2
	PolicyInOrder    Policy = 3
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyGreedy:
		return "greedy"
	case PolicyRoundRobin:
		return "roundrobin"
	case PolicyInOrder:
		return "inorder"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "greedy", "":
		return PolicyGreedy, nil
	case "roundrobin":
		return PolicyRoundRobin, nil
	case "inorder":
		return PolicyInOrder, nil
	default:
		return 0, fmt.Errorf("planner %q: %w", s, mdrerrors.ErrUnknownPolicy)
	}
}

// Input is everything a planner looks at.
type Input struct {
	Tolerance float64
	// Budget caps the bytes of this plan; config.UnlimitedBudget disables it.
	Budget    int64
	Estimator estimate.Estimator
	Errors    estimate.Table
	// Sizes[level][bitplane] is the stored size of a bitplane chunk.
	Sizes     [][]int64
	Retrieved []int
}

// Item is one selected bitplane.
type Item struct {
	Level    int
	Bitplane int
}

// Request is a contiguous bitplane range [Start, End) of one level.
type Request struct {
	Level int
	Start int
	End   int
	Bytes int64
}

// Plan is the delta to fetch in one call.
type Plan struct {
	Requests []Request
	// Items lists the selected bitplanes in selection order.
	Items []Item
	Bytes int64
	// Retrieved is the per-level count after applying the plan.
	Retrieved []int
	// Estimated is the error bound after applying the plan, in norm units.
	Estimated float64
	Satisfied bool
}

// Empty reports whether the plan fetches nothing.
func (p Plan) Empty() bool { return len(p.Requests) == 0 }

// Planner selects bitplanes.
type Planner interface {
	Policy() Policy
	Plan(in Input) (Plan, error)
}

// New returns the planner for policy.
func New(policy Policy) (Planner, error) {
	switch policy {
	case PolicyGreedy:
		return Greedy{}, nil
	case PolicyRoundRobin:
		return RoundRobin{}, nil
	case PolicyInOrder:
		return InOrder{}, nil
	default:
		return nil, fmt.Errorf("%s: %w", policy, mdrerrors.ErrUnknownPolicy)
	}
}

func validate(in Input) error {
	if err := estimate.ValidateTolerance(in.Tolerance); err != nil {
		return err
	}
	if in.Budget < config.UnlimitedBudget {
		return fmt.Errorf("budget %d: %w", in.Budget, mdrerrors.ErrInvalidBudget)
	}
	if len(in.Sizes) != len(in.Errors) || len(in.Retrieved) != len(in.Errors) {
		return fmt.Errorf("planner input has %d error rows, %d size rows, %d retrieved counts: %w",
			len(in.Errors), len(in.Sizes), len(in.Retrieved), mdrerrors.ErrInvalidState)
	}
	for l := range in.Errors {
		if len(in.Errors[l]) != len(in.Sizes[l])+1 {
			return fmt.Errorf("level %d: %d error entries for %d bitplanes: %w",
				l, len(in.Errors[l]), len(in.Sizes[l]), mdrerrors.ErrInvalidState)
		}
		if in.Retrieved[l] < 0 || in.Retrieved[l] > len(in.Sizes[l]) {
			return fmt.Errorf("level %d: retrieved %d of %d bitplanes: %w",
				l, in.Retrieved[l], len(in.Sizes[l]), mdrerrors.ErrInvalidState)
		}
	}
	return nil
}

// selection accumulates accepted bitplanes and applies the stopping rules
// every policy shares.
type selection struct {
	in        Input
	threshold float64
	cur       []int
	items     []Item
	bytes     int64
}

func newSelection(in Input) *selection {
	return &selection{
		in:        in,
		threshold: in.Estimator.Threshold(in.Tolerance),
		cur:       append([]int(nil), in.Retrieved...),
	}
}

func (s *selection) total() float64 {
	return s.in.Errors.Total(s.cur)
}

func (s *selection) satisfied() bool {
	return s.total() <= s.threshold
}

func (s *selection) remaining(level int) bool {
	return s.cur[level] < len(s.in.Sizes[level])
}

// accept takes the next bitplane of level. It returns false when the budget
// would be exceeded, which ends the selection.
func (s *selection) accept(level int) bool {
	cost := s.in.Sizes[level][s.cur[level]]
	if s.in.Budget != config.UnlimitedBudget && s.bytes+cost > s.in.Budget {
		return false
	}
	s.items = append(s.items, Item{Level: level, Bitplane: s.cur[level]})
	s.bytes += cost
	s.cur[level]++
	return true
}

func (s *selection) plan() Plan {
	p := Plan{
		Items:     s.items,
		Bytes:     s.bytes,
		Retrieved: s.cur,
	}
	for l := range s.cur {
		if s.cur[l] == s.in.Retrieved[l] {
			continue
		}
		r := Request{Level: l, Start: s.in.Retrieved[l], End: s.cur[l]}
		for b := r.Start; b < r.End; b++ {
			r.Bytes += s.in.Sizes[l][b]
		}
		p.Requests = append(p.Requests, r)
	}
	total := s.total()
	p.Estimated = s.in.Estimator.Achieved(total)
	p.Satisfied = total <= s.threshold
	return p
}
