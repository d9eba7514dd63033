// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/vellum-notes/vellum/lib/wire"
)

// BM25 parameters (Okapi variant, standard values).
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// Field weights: a match in the title outranks one in a heading,
// which outranks one in the body.
const (
	weightTitle   = 3
	weightHeading = 2
	weightBody    = 1
)

// tokenPattern splits text into alphanumeric runs.
var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// noteDocument is one indexed note.
type noteDocument struct {
	path          string
	title         string
	body          string
	termFrequency map[string]int
	length        int
}

// searchIndex is an immutable BM25 index over the vault's markdown
// notes. Rebuilt on demand after writes and on explicit sync.
type searchIndex struct {
	documents                []noteDocument
	averageDocumentLength    float64
	inverseDocumentFrequency map[string]float64
}

// Search returns up to limit notes ranked by BM25 relevance. The
// index is built lazily on first use and invalidated by writes; Sync
// forces a rebuild.
func (v *Vault) Search(query string, limit int) ([]wire.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	index, err := v.currentIndex()
	if err != nil {
		return nil, err
	}
	return index.search(query, limit), nil
}

// Sync rebuilds the search index from the vault's current contents.
func (v *Vault) Sync() error {
	index, err := v.buildIndex()
	if err != nil {
		return err
	}
	v.searchMu.Lock()
	v.index = index
	v.searchMu.Unlock()
	v.logger.Info("search index rebuilt", "vault_id", v.id, "notes", len(index.documents))
	return nil
}

// invalidateIndex drops the cached index after a write.
func (v *Vault) invalidateIndex() {
	v.searchMu.Lock()
	v.index = nil
	v.searchMu.Unlock()
}

func (v *Vault) currentIndex() (*searchIndex, error) {
	v.searchMu.Lock()
	index := v.index
	v.searchMu.Unlock()
	if index != nil {
		return index, nil
	}

	index, err := v.buildIndex()
	if err != nil {
		return nil, err
	}
	v.searchMu.Lock()
	v.index = index
	v.searchMu.Unlock()
	return index, nil
}

// buildIndex reads every markdown note and computes term statistics.
// Construction is O(total tokens) and sub-millisecond for typical
// vaults (hundreds of notes).
func (v *Vault) buildIndex() (*searchIndex, error) {
	paths, err := v.notePaths()
	if err != nil {
		return nil, err
	}

	index := &searchIndex{
		inverseDocumentFrequency: make(map[string]float64),
	}
	documentFrequency := make(map[string]int)
	var totalLength int

	for _, path := range paths {
		content, err := v.Read(path)
		if err != nil {
			return nil, err
		}
		document := buildNoteDocument(path, content)
		totalLength += document.length

		seen := make(map[string]bool, len(document.termFrequency))
		for term := range document.termFrequency {
			if !seen[term] {
				seen[term] = true
				documentFrequency[term]++
			}
		}
		index.documents = append(index.documents, document)
	}

	if len(index.documents) > 0 {
		index.averageDocumentLength = float64(totalLength) / float64(len(index.documents))
	}

	// Terms appearing in every note get a small positive score rather
	// than zero, so they still contribute a tiny amount to ranking.
	documentCount := float64(len(index.documents))
	for term, frequency := range documentFrequency {
		idf := math.Log(1 + (documentCount-float64(frequency)+0.5)/(float64(frequency)+0.5))
		if idf < 0 {
			idf = paramEpsilon
		}
		index.inverseDocumentFrequency[term] = idf
	}

	return index, nil
}

// buildNoteDocument tokenizes one note into the weighted composite:
// title tokens three times, heading tokens twice, body tokens once.
func buildNoteDocument(path string, content []byte) noteDocument {
	title := noteTitle(path, content)

	var headingText []string
	for _, heading := range parseHeadings(content) {
		headingText = append(headingText, heading.text)
	}

	termFrequency := make(map[string]int)
	length := 0
	addTokens := func(text string, weight int) {
		for _, token := range tokenize(text) {
			termFrequency[token] += weight
			length += weight
		}
	}
	addTokens(title, weightTitle)
	addTokens(strings.Join(headingText, " "), weightHeading)
	addTokens(string(content), weightBody)

	return noteDocument{
		path:          path,
		title:         title,
		body:          string(content),
		termFrequency: termFrequency,
		length:        length,
	}
}

// noteTitle is the note's first heading, or its filename without the
// extension.
func noteTitle(path string, content []byte) string {
	for _, heading := range parseHeadings(content) {
		if heading.level == 1 {
			return strings.TrimSpace(heading.text)
		}
	}
	base := path
	if slash := strings.LastIndexByte(base, '/'); slash >= 0 {
		base = base[slash+1:]
	}
	return strings.TrimSuffix(base, ".md")
}

func (index *searchIndex) search(query string, limit int) []wire.SearchResult {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return []wire.SearchResult{}
	}

	type scored struct {
		document *noteDocument
		score    float64
	}
	var hits []scored

	for i := range index.documents {
		score := index.score(i, queryTokens)
		if score > 0 {
			hits = append(hits, scored{document: &index.documents[i], score: score})
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].document.path < hits[b].document.path
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]wire.SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = wire.SearchResult{
			Path:    hit.document.path,
			Title:   hit.document.title,
			Score:   hit.score,
			Excerpt: excerpt(hit.document.body, queryTokens),
		}
	}
	return results
}

// score computes the BM25 score of one document against the query.
func (index *searchIndex) score(documentIndex int, queryTokens []string) float64 {
	document := &index.documents[documentIndex]
	documentLength := float64(document.length)

	var score float64
	for _, token := range queryTokens {
		idf, exists := index.inverseDocumentFrequency[token]
		if !exists {
			continue
		}
		frequency := float64(document.termFrequency[token])
		if frequency == 0 {
			continue
		}
		numerator := frequency * (paramK1 + 1)
		denominator := frequency + paramK1*(1-paramB+paramB*documentLength/index.averageDocumentLength)
		score += idf * numerator / denominator
	}
	return score
}

// excerpt returns the first line containing a query token, trimmed.
func excerpt(body string, queryTokens []string) string {
	for _, line := range strings.Split(body, "\n") {
		lowered := strings.ToLower(line)
		for _, token := range queryTokens {
			if strings.Contains(lowered, token) {
				trimmed := strings.TrimSpace(line)
				if len(trimmed) > 200 {
					trimmed = trimmed[:200]
				}
				return trimmed
			}
		}
	}
	return ""
}

// tokenize splits text into lowercase alphanumeric tokens, discarding
// tokens shorter than 2 characters.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 2 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}
