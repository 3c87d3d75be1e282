package reference

// cell is the lazy state shared by every reference variant. It moves from
// unresolved to resolved once; a failed load leaves it unresolved. Once
// resolved the captured ids are kept for re-encoding, but values win reads.
type cell[I, V any] struct {
	resolved bool
	captured bool
	ids      I
	values   V
}

func (c *cell[I, V]) get(load func(ids I, captured bool) (V, error)) (V, error) {
	if !c.resolved {
		v, err := load(c.ids, c.captured)
		if err != nil {
			var zero V
			return zero, err
		}
		c.values, c.resolved = v, true
	}
	return c.values, nil
}

// capture resets the cell to unresolved over a stored id structure.
func (c *cell[I, V]) capture(ids I) {
	var zero V
	c.ids, c.captured = ids, true
	c.values, c.resolved = zero, false
}

// settle resolves the cell directly from in-memory values, dropping ids.
func (c *cell[I, V]) settle(values V) {
	var zero I
	c.ids, c.captured = zero, false
	c.values, c.resolved = values, true
}

// remember caches ids derived from the resolved values.
func (c *cell[I, V]) remember(ids I) {
	c.ids, c.captured = ids, true
}
