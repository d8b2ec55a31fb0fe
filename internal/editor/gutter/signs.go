package gutter

import "sync"

// Signs is a SignProvider backed by per-type line sets.
type Signs struct {
	mu     sync.RWMutex
	byType map[SignType]map[int]struct{}
}

// NewSigns creates an empty sign set.
func NewSigns() *Signs {
	return &Signs{byType: make(map[SignType]map[int]struct{})}
}

// Set replaces the lines carrying st.
func (s *Signs) Set(st SignType, lines ...int) {
	set := make(map[int]struct{}, len(lines))
	for _, l := range lines {
		if l > 0 {
			set[l] = struct{}{}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(set) == 0 {
		delete(s.byType, st)
		return
	}
	s.byType[st] = set
}

// Clear removes every sign of type st.
func (s *Signs) Clear(st SignType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byType, st)
}

// SignsForLine implements SignProvider.
func (s *Signs) SignsForLine(line int) []Sign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Sign
	for st, lines := range s.byType {
		if _, ok := lines[line]; ok {
			out = append(out, Sign{Line: line, Type: st})
		}
	}
	return out
}
