package plan

// RoundRobin takes one bitplane per level per round, lowest level first.
type RoundRobin struct{}

// Policy implements Planner.
func (RoundRobin) Policy() Policy { return PolicyRoundRobin }

// Plan implements Planner.
func (RoundRobin) Plan(in Input) (Plan, error) {
	if err := validate(in); err != nil {
		return Plan{}, err
	}
	s := newSelection(in)
	for !s.satisfied() {
		progressed := false
		for l := range in.Errors {
			if !s.remaining(l) {
				continue
			}
			if !s.accept(l) {
				return s.plan(), nil
			}
			progressed = true
			if s.satisfied() {
				return s.plan(), nil
			}
		}
		if !progressed {
			break
		}
	}
	return s.plan(), nil
}

// InOrder exhausts each level before moving to the next.
type InOrder struct{}

// Policy implements Planner.
func (InOrder) Policy() Policy { return PolicyInOrder }

// Plan implements Planner.
func (InOrder) Plan(in Input) (Plan, error) {
	if err := validate(in); err != nil {
		return Plan{}, err
	}
	s := newSelection(in)
	for l := range in.Errors {
		for s.remaining(l) && !s.satisfied() {
			if !s.accept(l) {
				return s.plan(), nil
			}
		}
	}
	return s.plan(), nil
}
