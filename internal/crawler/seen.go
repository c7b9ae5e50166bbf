package crawler

// IdentifierSet records identifiers already written to a collection.
// Membership only grows; it is rebuilt on startup by replaying the
// collection's checkpoint file.
type IdentifierSet struct {
	seen map[Identifier]struct{}
}

// NewIdentifierSet returns a set hydrated with prior identifiers.
func NewIdentifierSet(prior ...Identifier) *IdentifierSet {
	s := &IdentifierSet{seen: make(map[Identifier]struct{}, len(prior))}
	for _, id := range prior {
		s.Add(id)
	}
	return s
}

// Contains reports whether id was seen.
func (s *IdentifierSet) Contains(id Identifier) bool {
	_, ok := s.seen[id]
	return ok
}

// Add marks id as seen and returns true if it was new.
func (s *IdentifierSet) Add(id Identifier) bool {
	if id == "" {
		return false
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Len returns the number of seen identifiers.
func (s *IdentifierSet) Len() int {
	return len(s.seen)
}

// Filter returns the identifiers from batch that were not seen before, in
// order, and marks them as seen. Duplicates within batch are dropped too.
func (s *IdentifierSet) Filter(batch []Identifier) []Identifier {
	fresh := make([]Identifier, 0, len(batch))
	for _, id := range batch {
		if s.Add(id) {
			fresh = append(fresh, id)
		}
	}
	return fresh
}
