// Package refs implements the ordered reference list: a newline-delimited,
// deduplicated sequence of strings where the first occurrence of a value wins
// its position and explicit deletions always win over insertions.
//
// The product root persists its connections index and its project index in
// this format. A List is loaded, edited with Append, InsertAt and Delete, and
// then written back once with Store, which applies Merge.
package refs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPosition is returned by InsertAt when the position lies outside [1, len+1].
var ErrPosition = errors.New("insert position out of range")

// List is an editable reference list. The zero value is an empty list.
type List struct {
	entries []string
	deleted []string
}

// New returns a list holding entries in the given order.
func New(entries ...string) *List {
	return &List{entries: append([]string(nil), entries...)}
}

// Load reads the list stored at path. A missing file is an empty list.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &List{}, nil
		}
		return nil, fmt.Errorf("reading reference list %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Parse splits text into entries. Blank lines are kept in the working
// sequence and dropped by Merge.
func Parse(text string) *List {
	if text == "" {
		return &List{}
	}
	return &List{entries: strings.Split(text, "\n")}
}

// Append adds entries to the end of the working sequence.
func (l *List) Append(entries ...string) {
	l.entries = append(l.entries, entries...)
}

// InsertAt splices entries into the working sequence so that the first of them
// lands at the 1-based position. One past the last entry appends.
func (l *List) InsertAt(position int, entries ...string) error {
	if position < 1 || position > len(l.entries)+1 {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrPosition, position, len(l.entries)+1)
	}
	at := position - 1
	spliced := make([]string, 0, len(l.entries)+len(entries))
	spliced = append(spliced, l.entries[:at]...)
	spliced = append(spliced, entries...)
	spliced = append(spliced, l.entries[at:]...)
	l.entries = spliced
	return nil
}

// Delete marks values for removal wherever they occur.
func (l *List) Delete(entries ...string) {
	l.deleted = append(l.deleted, entries...)
}

// Merge resolves the working sequence. A value is kept on its first non-blank
// occurrence unless it was deleted; later occurrences are dropped.
func (l *List) Merge() []string {
	written := make(map[string]struct{}, len(l.entries)+len(l.deleted))
	for _, d := range l.deleted {
		written[d] = struct{}{}
	}

	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		if _, seen := written[e]; seen {
			continue
		}
		written[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// String renders the merged list in its persisted form.
func (l *List) String() string {
	return strings.Join(l.Merge(), "\n")
}

// Store merges the list and replaces the file at path with the result. The
// content is written to a temporary file in the same directory and renamed
// over the target.
func (l *List) Store(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("storing reference list %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(l.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("storing reference list %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storing reference list %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("storing reference list %s: %w", path, err)
	}

	// Later edits start from the persisted state.
	l.entries = l.Merge()
	l.deleted = nil
	return nil
}
