package reconcile

import (
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
)

// MergePublished is the published-notes view: the union of chain and local notes keyed by id.
// The chain copy wins for ids present in both, local non-draft notes fill the gaps and
// drafts never appear. The result is ordered by UpdatedAt DESC, then id.
func MergePublished(onChain []notes.Note, local []localstore.LocalNote) []notes.Note {
	merged := make(map[string]notes.Note, len(onChain)+len(local))
	for _, note := range onChain {
		merged[strings.ToLower(note.ID.String())] = note
	}
	for _, note := range local {
		if note.IsDraft {
			continue
		}
		key := strings.ToLower(note.ID)
		if _, exists := merged[key]; exists {
			continue
		}
		merged[key] = note.ToNote()
	}

	result := make([]notes.Note, 0, len(merged))
	for _, note := range merged {
		result = append(result, note)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt != result[j].UpdatedAt {
			return result[i].UpdatedAt > result[j].UpdatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result
}
