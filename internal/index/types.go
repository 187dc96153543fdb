// Package index builds the ordered list of images analysed in one run,
// either by scanning a directory with a filename pattern or by reading a
// metadata table.
package index

import "path/filepath"

// Designator labels which quantity orders a List. It is used for display only.
type Designator string

const (
	DesignatorIndex       Designator = "index"
	DesignatorElapsedTime Designator = "elapsed time"
)

// Record is one image of the series.
type Record struct {
	Index     int      `json:"index"`
	Filename  string   `json:"filename"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// Key returns the ordering key: the timestamp when present, else the index.
func (r Record) Key() float64 {
	if r.Timestamp != nil {
		return *r.Timestamp
	}
	return float64(r.Index)
}

// List is an ordered, non-empty series of records with unique indices,
// sorted ascending by ordering key. The first record is the reference.
type List struct {
	Dir        string
	Designator Designator
	Records    []Record
}

// Reference returns the record with the smallest ordering key.
func (l *List) Reference() Record {
	return l.Records[0]
}

// Len returns the number of records.
func (l *List) Len() int {
	return len(l.Records)
}

// Path resolves a record's filename against the list directory.
func (l *List) Path(r Record) string {
	if filepath.IsAbs(r.Filename) {
		return r.Filename
	}
	return filepath.Join(l.Dir, r.Filename)
}

// Source produces a List. PatternSource and TableSource are the two
// construction modes.
type Source interface {
	Build() (*List, error)
}

// DuplicatePolicy decides what pattern mode does when two files map to the same index.
type DuplicatePolicy string

const (
	// DuplicateReject fails the build with a ConfigurationError.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateLastWins keeps the lexically last file and logs the dropped ones.
	DuplicateLastWins DuplicatePolicy = "last"
)
