package index

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Required metadata table columns.
const (
	ColumnIndex       = "index"
	ColumnElapsedTime = "elapsedTime"
	ColumnUse         = "use"
	ColumnImageFile   = "imageFile"
)

// TableSource indexes images listed in a CSV metadata table. Only rows with
// use=true are kept, ordered by elapsedTime. Image filenames are resolved
// against Dir, which defaults to the table's directory.
type TableSource struct {
	Dir  string
	Path string
}

// Build reads the table and returns the retained records.
func (s TableSource) Build() (*List, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, &DataError{Path: s.Path, Reason: fmt.Sprintf("cannot open table: %v", err)}
	}
	defer f.Close()

	records, err := readTable(f, s.Path)
	if err != nil {
		return nil, err
	}

	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(s.Path)
	}

	slog.Info("Indexed metadata table", "table", s.Path, "records", len(records))

	return &List{
		Dir:        dir,
		Designator: DesignatorElapsedTime,
		Records:    records,
	}, nil
}

func readTable(r io.Reader, path string) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &DataError{Path: path, Reason: "table is empty"}
		}
		return nil, &DataError{Path: path, Reason: fmt.Sprintf("cannot read header: %v", err)}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range []string{ColumnIndex, ColumnElapsedTime, ColumnUse, ColumnImageFile} {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &DataError{Path: path, Reason: "missing columns: " + strings.Join(missing, ", ")}
	}

	seen := make(map[int]int)
	var records []Record
	for row := 1; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DataError{Path: path, Row: row, Reason: err.Error()}
		}

		idx, err := strconv.Atoi(strings.TrimSpace(fields[cols[ColumnIndex]]))
		if err != nil {
			return nil, &DataError{Path: path, Row: row, Reason: fmt.Sprintf("invalid index: %v", err)}
		}
		if prev, ok := seen[idx]; ok {
			return nil, &DataError{Path: path, Row: row, Reason: fmt.Sprintf("index %d collides with row %d", idx, prev)}
		}
		seen[idx] = row

		use, err := strconv.ParseBool(strings.TrimSpace(fields[cols[ColumnUse]]))
		if err != nil {
			return nil, &DataError{Path: path, Row: row, Reason: fmt.Sprintf("invalid use flag: %v", err)}
		}
		if !use {
			continue
		}

		elapsed, err := strconv.ParseFloat(strings.TrimSpace(fields[cols[ColumnElapsedTime]]), 64)
		if err != nil {
			return nil, &DataError{Path: path, Row: row, Reason: fmt.Sprintf("invalid elapsedTime: %v", err)}
		}
		if math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
			return nil, &DataError{Path: path, Row: row, Reason: fmt.Sprintf("elapsedTime must be finite, got %v", elapsed)}
		}

		file := strings.TrimSpace(fields[cols[ColumnImageFile]])
		if file == "" {
			return nil, &DataError{Path: path, Row: row, Reason: "empty imageFile"}
		}

		records = append(records, Record{Index: idx, Filename: file, Timestamp: &elapsed})
	}

	if len(records) == 0 {
		return nil, &DataError{Path: path, Reason: "no rows with use=true"}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return *records[i].Timestamp < *records[j].Timestamp
	})
	return records, nil
}
