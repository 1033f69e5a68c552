package session

// Selection is the set of item ids an operator is viewing. Single-select
// drives the detail view; two or more ids drive the comparison view.
type Selection struct {
	IDs     []string `json:"ids"`
	Compare bool     `json:"compare"`
}

// Contains reports whether id is part of the selection.
func (s *Selection) Contains(id string) bool {
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// Select replaces the selection with a single id.
func (s *Selection) Select(id string) {
	s.IDs = []string{id}
	s.Compare = false
}

// Toggle adds or removes an id. At least one id always remains selected;
// compare mode holds exactly while two or more ids are selected.
func (s *Selection) Toggle(id string) {
	if !s.Contains(id) {
		s.IDs = append(s.IDs, id)
		s.Compare = len(s.IDs) >= 2
		return
	}
	if len(s.IDs) > 1 {
		for i, v := range s.IDs {
			if v == id {
				s.IDs = append(s.IDs[:i], s.IDs[i+1:]...)
				break
			}
		}
	}
	s.Compare = len(s.IDs) >= 2
}

// Drop removes a deleted item id and repoints the selection at the fallback
// id when the set would otherwise go empty. The selection is never empty
// while any item exists.
func (s *Selection) Drop(deleted, fallback string) {
	kept := s.IDs[:0]
	for _, v := range s.IDs {
		if v != deleted {
			kept = append(kept, v)
		}
	}
	s.IDs = kept
	if len(s.IDs) == 0 {
		s.Compare = false
		if fallback != "" {
			s.IDs = []string{fallback}
		}
	}
	if len(s.IDs) < 2 {
		s.Compare = false
	}
}

// Store port for session state: one snapshot slot and one selection per
// clinic, mirroring the single well-known browser storage key.
type Store interface {
	SaveSnapshot(clinic string, records []Record) error
	LoadSnapshot(clinic string) ([]Record, bool, error)
	SaveSelection(clinic string, sel Selection)
	LoadSelection(clinic string) (Selection, bool)
}
