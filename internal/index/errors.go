package index

import "strconv"

// ConfigurationError reports an invalid indexing configuration, such as a
// pattern without capture groups. It is fatal for the run.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

// DataError reports a malformed metadata table.
type DataError struct {
	Path   string
	Row    int // 1-based data row, 0 when not row specific
	Reason string
}

func (e *DataError) Error() string {
	msg := "data error"
	if e.Path != "" {
		msg += " in " + e.Path
	}
	if e.Row > 0 {
		msg += " row " + strconv.Itoa(e.Row)
	}
	return msg + ": " + e.Reason
}

func (e *DataError) Is(target error) bool {
	_, ok := target.(*DataError)
	return ok
}

// ErrConfiguration and ErrData match their error types via errors.Is.
var (
	ErrConfiguration = &ConfigurationError{}
	ErrData          = &DataError{}
)
