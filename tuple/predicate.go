package tuple

import "fmt"

// Predicate compares a single field against a constant. Scans use it both to
// filter tuples and to choose where to start.
type Predicate struct {
	Op    Op
	Value Field
}

// NewPredicate returns a predicate "field op value". A string value is
// truncated like stored strings are.
func NewPredicate(op Op, value Field) *Predicate {
	return &Predicate{Op: op, Value: normalize(value)}
}

// Matches reports whether f satisfies the predicate.
func (p *Predicate) Matches(f Field) bool {
	return f.Compare(p.Op, p.Value)
}

func (p *Predicate) String() string {
	return fmt.Sprintf("%s %s", p.Op, p.Value)
}
