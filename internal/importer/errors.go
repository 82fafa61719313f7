package importer

import "fmt"

// ParseError describes why a file or a single row could not be imported.
// Row is 1-based (the CSV header is row 1); zero means the whole file.
type ParseError struct {
	Row   int
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	switch {
	case e.Row > 0 && e.Field != "":
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Msg)
	case e.Row > 0:
		return fmt.Sprintf("row %d: %s", e.Row, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

func fileError(format string, args ...interface{}) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}
