package store

import (
	"encoding/json"
	"strings"
	"sync"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// triggerCache holds the normalized trigger phrases of every memory in RAM so
// prompt matching stays well under its latency budget. A generation counter
// invalidates the cache on any write to memory_index.
type triggerCache struct {
	mu      sync.RWMutex
	gen     uint64
	loaded  uint64
	entries []triggerEntry
}

type triggerEntry struct {
	memoryID int64
	phrase   string
}

func newTriggerCache() *triggerCache {
	return &triggerCache{gen: 1}
}

func (c *triggerCache) invalidate() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// TriggerMatch pairs a memory with the phrase that fired.
type TriggerMatch struct {
	MemoryID int64
	Phrase   string
}

// MatchTriggers returns every memory whose trigger phrases occur as a
// substring of the normalized prompt. One match per (memory, phrase) pair.
func (s *Store) MatchTriggers(prompt string) ([]TriggerMatch, error) {
	norm := NormalizePhrase(prompt)
	if norm == "" {
		return nil, nil
	}
	// An external writer may have bumped the sentinel since the cache loaded.
	s.CheckSentinel()
	entries, err := s.triggerEntries()
	if err != nil {
		return nil, err
	}
	var matches []TriggerMatch
	for _, e := range entries {
		if containsPhrase(norm, e.phrase) {
			matches = append(matches, TriggerMatch{MemoryID: e.memoryID, Phrase: e.phrase})
		}
	}
	return matches, nil
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	offset := 0
	for offset <= len(text)-len(phrase) {
		idx := strings.Index(text[offset:], phrase)
		if idx < 0 {
			return false
		}
		idx += offset
		beforeOK := idx == 0 || text[idx-1] == ' '
		end := idx + len(phrase)
		afterOK := end == len(text) || text[end] == ' '
		if beforeOK && afterOK {
			return true
		}
		offset = idx + 1
	}
	return false
}

func (s *Store) triggerEntries() ([]triggerEntry, error) {
	s.triggers.mu.RLock()
	gen := s.triggers.gen
	if s.triggers.loaded == gen {
		entries := s.triggers.entries
		s.triggers.mu.RUnlock()
		return entries, nil
	}
	s.triggers.mu.RUnlock()
	return s.reloadTriggers(gen)
}

// reloadTriggers requeries trigger phrases and stamps the cache with the
// generation observed before the query. A write that lands mid-query bumps
// the generation past the stamp, so the next read reloads again instead of
// serving the stale snapshot.
func (s *Store) reloadTriggers(gen uint64) ([]triggerEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, trigger_phrases FROM memory_index WHERE trigger_phrases != '[]'`)
	if err != nil {
		return nil, engerrors.Database(err)
	}
	defer rows.Close()

	var entries []triggerEntry
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, engerrors.Database(err)
		}
		var phrases []string
		if err := json.Unmarshal([]byte(raw), &phrases); err != nil {
			continue
		}
		for _, p := range phrases {
			entries = append(entries, triggerEntry{memoryID: id, phrase: p})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, engerrors.Database(err)
	}

	s.triggers.mu.Lock()
	s.triggers.entries = entries
	s.triggers.loaded = gen
	s.triggers.mu.Unlock()
	return entries, nil
}
