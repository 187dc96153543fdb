package index

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// PatternSource indexes a directory by filename. The first capture group of
// Pattern, matched at the start of each name, supplies the record index.
type PatternSource struct {
	Dir        string
	Extension  string
	Pattern    string
	Duplicates DuplicatePolicy
}

// compilePattern validates the pattern and returns it anchored at the start of the name.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid pattern %q: %v", pattern, err)}
	}
	if re.NumSubexp() == 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("pattern %q has no capture groups", pattern)}
	}
	// Non-capturing wrapper keeps the user's group numbering.
	return regexp.MustCompile("^(?:" + pattern + ")"), nil
}

// Build scans the directory and returns the records sorted by index.
func (s PatternSource) Build() (*List, error) {
	re, err := compilePattern(s.Pattern)
	if err != nil {
		return nil, err
	}

	policy := s.Duplicates
	if policy == "" {
		policy = DuplicateReject
	}
	if policy != DuplicateReject && policy != DuplicateLastWins {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown duplicate policy %q", policy)}
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot read directory %s: %v", s.Dir, err)}
	}

	// os.ReadDir returns entries sorted by name, so "last" is lexical.
	byIndex := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, s.Extension) {
			continue
		}

		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		idx, err := strconv.Atoi(m[1])
		if err != nil {
			slog.Warn("Skipping file with non-integer index", "file", name, "group", m[1])
			continue
		}

		if prev, ok := byIndex[idx]; ok {
			if policy == DuplicateReject {
				return nil, &ConfigurationError{
					Reason: fmt.Sprintf("files %s and %s both map to index %d", prev, name, idx),
				}
			}
			slog.Warn("Duplicate index, keeping last file", "index", idx, "dropped", prev, "kept", name)
		}
		byIndex[idx] = name
	}

	if len(byIndex) == 0 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("no files in %s match pattern %q with extension %q", s.Dir, s.Pattern, s.Extension),
		}
	}

	records := make([]Record, 0, len(byIndex))
	for idx, name := range byIndex {
		records = append(records, Record{Index: idx, Filename: name})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })

	slog.Info("Indexed directory", "dir", s.Dir, "records", len(records), "first", records[0].Filename)

	return &List{
		Dir:        s.Dir,
		Designator: DesignatorIndex,
		Records:    records,
	}, nil
}
