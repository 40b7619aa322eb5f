package storage

import (
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"helix/domain"
)

const previewLen = 100

// EntryMatch is one search hit in the conversation log.
type EntryMatch struct {
	EntryIndex int
	EntryID    string
	Role       domain.Role
	Preview    string
	Timestamp  time.Time
	Score      int
}

type entrySource []domain.ConversationEntry

func (e entrySource) String(i int) string { return e[i].Content }
func (e entrySource) Len() int            { return len(e) }

// SearchEntries fuzzy-matches query against the log, best match first.
// System entries and empty tool placeholders are skipped.
func SearchEntries(entries []domain.ConversationEntry, query string) []EntryMatch {
	query = strings.TrimSpace(query)
	if query == "" {
		return []EntryMatch{}
	}

	results := fuzzy.FindFrom(query, entrySource(entries))
	matches := make([]EntryMatch, 0, len(results))
	for _, r := range results {
		entry := entries[r.Index]
		if entry.Role == domain.RoleSystem || entry.Content == "" {
			continue
		}
		matches = append(matches, EntryMatch{
			EntryIndex: r.Index,
			EntryID:    entry.ID,
			Role:       entry.Role,
			Preview:    preview(entry.Content),
			Timestamp:  entry.Timestamp.Time,
			Score:      r.Score,
		})
	}
	return matches
}

type sequenceSource []domain.OutreachSequence

func (s sequenceSource) String(i int) string {
	return s[i].Name + " " + s[i].CompanyName + " " + s[i].RoleName
}
func (s sequenceSource) Len() int { return len(s) }

// FilterSequences returns the sequences matching query, best match first.
// An empty query returns all of them in their original order.
func FilterSequences(seqs []domain.OutreachSequence, query string) []domain.OutreachSequence {
	query = strings.TrimSpace(query)
	if query == "" {
		return seqs
	}

	results := fuzzy.FindFrom(query, sequenceSource(seqs))
	out := make([]domain.OutreachSequence, 0, len(results))
	for _, r := range results {
		out = append(out, seqs[r.Index])
	}
	return out
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return runewidth.Truncate(s, previewLen, "...")
}
