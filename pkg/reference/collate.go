package reference

// Collation groups ids by the collection that stores their targets. Buckets
// keep the order in which collections were first seen.
type Collation struct {
	order   []string
	buckets map[string][]ID
}

// NewCollation returns an empty grouping.
func NewCollation() *Collation {
	return &Collation{buckets: make(map[string][]ID)}
}

// Collate appends each id to the bucket of its destination collection: the
// collection embedded in a qualified pointer, else defaultCollection. It never
// fetches and never fails; an empty destination surfaces when resolving.
func Collate(defaultCollection string, acc *Collation, ids ...ID) {
	for _, id := range ids {
		dest := destination(defaultCollection, id)
		if _, ok := acc.buckets[dest]; !ok {
			acc.order = append(acc.order, dest)
		}
		acc.buckets[dest] = append(acc.buckets[dest], id)
	}
}

// Collections returns the distinct destinations in first-seen order.
func (c *Collation) Collections() []string {
	return append([]string(nil), c.order...)
}

// IDs returns the ids collated into collection.
func (c *Collation) IDs(collection string) []ID {
	return c.buckets[collection]
}

// Len returns the number of distinct destinations.
func (c *Collation) Len() int { return len(c.order) }

func destination(defaultCollection string, id ID) string {
	if id.IsQualified() {
		return id.collection
	}
	return defaultCollection
}
