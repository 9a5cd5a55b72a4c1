package model

import "sort"

// CatalogEntry is an immutable entry of the external reference catalog.
type CatalogEntry struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Category string `json:"category"`
}

// Candidate pairs a catalog entry with a normalized match score in [0,1].
type Candidate struct {
	Entry CatalogEntry `json:"entry"`
	Score float64      `json:"score"`
}

// CandidateSet is a ranked list of candidates for one query, best first.
type CandidateSet []Candidate

// Top returns the best candidate, or false when the set is empty.
func (s CandidateSet) Top() (Candidate, bool) {
	if len(s) == 0 {
		return Candidate{}, false
	}
	return s[0], true
}

// TopScore returns the best score, or 0 for an empty set.
func (s CandidateSet) TopScore() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[0].Score
}

// Contains reports whether code is one of the candidates.
func (s CandidateSet) Contains(code string) bool {
	_, ok := s.Find(code)
	return ok
}

// Find returns the candidate with the given code.
func (s CandidateSet) Find(code string) (Candidate, bool) {
	for _, c := range s {
		if c.Entry.Code == code {
			return c, true
		}
	}
	return Candidate{}, false
}

// Limit returns at most n candidates. A non-positive n returns the set unchanged.
func (s CandidateSet) Limit(n int) CandidateSet {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// Codes returns the candidate codes in rank order.
func (s CandidateSet) Codes() []string {
	codes := make([]string, len(s))
	for i, c := range s {
		codes[i] = c.Entry.Code
	}
	return codes
}

// Sort orders the set by score descending. Ties are broken by code so the
// ranking is deterministic across runs.
func (s CandidateSet) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Entry.Code < s[j].Entry.Code
	})
}
