package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"pibrain/internal/domain"
	"pibrain/internal/logging"
)

// rawRecord is the on-disk shape of one transcript line. Unknown fields
// are preserved on Entry.Raw rather than dropped, per spec.md §9's
// pass-through guidance for accreted optional fields.
type rawRecord struct {
	ID              string                 `json:"id"`
	ParentID        string                 `json:"parent_id"`
	Timestamp       time.Time              `json:"timestamp"`
	Kind            Kind                   `json:"kind"`
	ParentSessionID string                 `json:"parent_session_id"`
	Payload         map[string]interface{} `json:"-"`
}

// ParseFile reads path as a newline-delimited transcript and returns its
// Session. The first line must decode and declare KindHeader; anything
// else is fatal. A final line that fails to decode is dropped with a
// warning (tolerant of a writer caught mid-append), but a truncated line
// anywhere else in the file is fatal, since later entries may already
// reference it by id.
func ParseFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.Classify(domain.ErrTranscriptMalformed, "open", err)
	}
	defer f.Close()

	log := logging.Get(logging.CategoryTranscript)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.Classify(domain.ErrTranscriptMalformed, "scan", fmt.Errorf("%s: %w", path, err))
	}
	if len(lines) == 0 {
		return nil, domain.Classify(domain.ErrTranscriptMalformed, "parse", fmt.Errorf("%s: empty transcript", path))
	}

	entries := make([]Entry, 0, len(lines))
	seen := make(map[string]bool, len(lines))

	for i, line := range lines {
		entry, rawErr := decodeLine(line)
		if rawErr != nil {
			if i == len(lines)-1 {
				log.Warn("dropping unparsable final record", "path", path, "error", rawErr)
				break
			}
			return nil, domain.Classify(domain.ErrTranscriptMalformed, "parse",
				fmt.Errorf("%s: line %d: %w", path, i+1, rawErr))
		}

		if i == 0 && entry.Kind != KindHeader {
			return nil, domain.Classify(domain.ErrTranscriptMalformed, "parse",
				fmt.Errorf("%s: first record must declare kind %q, got %q", path, KindHeader, entry.Kind))
		}
		if i > 0 && entry.Kind == KindHeader {
			return nil, domain.Classify(domain.ErrTranscriptMalformed, "parse",
				fmt.Errorf("%s: line %d: header must be the first record", path, i+1))
		}
		if seen[entry.ID] {
			return nil, domain.Classify(domain.ErrTranscriptMalformed, "parse",
				fmt.Errorf("%s: duplicate entry id %q", path, entry.ID))
		}
		seen[entry.ID] = true
		entries = append(entries, entry)
	}

	return newSession(path, entries)
}

func decodeLine(line string) (Entry, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, err
	}

	var rec rawRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return Entry{}, err
	}
	if rec.ID == "" {
		return Entry{}, fmt.Errorf("missing id")
	}

	delete(raw, "id")
	delete(raw, "parent_id")
	delete(raw, "timestamp")
	delete(raw, "kind")
	delete(raw, "parent_session_id")

	return Entry{
		ID:              rec.ID,
		ParentID:        rec.ParentID,
		Timestamp:       rec.Timestamp,
		Kind:            rec.Kind,
		Raw:             raw,
		ParentSessionID: rec.ParentSessionID,
	}, nil
}

// sortChildren orders entries ascending by timestamp, then by id,
// per spec.md §4.1's children-ordering rule.
func sortChildren(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
}
