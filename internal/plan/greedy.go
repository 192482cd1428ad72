package plan

import (
	"container/heap"
	"math"
)

// Greedy ranks the next bitplane of every level by error reduction per
// byte. Ties go to the lower level, then the lower bitplane.
type Greedy struct{}

// Policy implements Planner.
func (Greedy) Policy() Policy { return PolicyGreedy }

// Plan implements Planner.
func (Greedy) Plan(in Input) (Plan, error) {
	if err := validate(in); err != nil {
		return Plan{}, err
	}
	s := newSelection(in)
	if s.satisfied() {
		return s.plan(), nil
	}

	q := &candidates{}
	for l := range in.Errors {
		if s.remaining(l) {
			heap.Push(q, s.candidate(l))
		}
	}

	for q.Len() > 0 {
		c := heap.Pop(q).(candidate)
		if !s.accept(c.level) {
			break
		}
		if s.satisfied() {
			break
		}
		if s.remaining(c.level) {
			heap.Push(q, s.candidate(c.level))
		}
	}
	return s.plan(), nil
}

type candidate struct {
	level    int
	bitplane int
	ratio    float64
}

func (s *selection) candidate(level int) candidate {
	k := s.cur[level]
	gain := s.in.Errors[level][k] - s.in.Errors[level][k+1]
	return candidate{level: level, bitplane: k, ratio: ratio(gain, s.in.Sizes[level][k])}
}

// ratio is gain per byte; free bitplanes that reduce error rank first.
func ratio(gain float64, cost int64) float64 {
	switch {
	case gain <= 0:
		return 0
	case cost <= 0:
		return math.Inf(1)
	default:
		return gain / float64(cost)
	}
}

// candidates is a max-heap on ratio.
type candidates []candidate

func (c candidates) Len() int { return len(c) }

func (c candidates) Less(i, j int) bool {
	if c[i].ratio != c[j].ratio {
		return c[i].ratio > c[j].ratio
	}
	if c[i].level != c[j].level {
		return c[i].level < c[j].level
	}
	return c[i].bitplane < c[j].bitplane
}

func (c candidates) Swap(i, j int) { c[i], c[j] = c[j], c[i] }

func (c *candidates) Push(x any) { *c = append(*c, x.(candidate)) }

func (c *candidates) Pop() any {
	old := *c
	n := len(old)
	x := old[n-1]
	*c = old[:n-1]
	return x
}
