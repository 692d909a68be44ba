package compiler

import (
	"fmt"
	"sort"
)

// File is a loaded source file. Line tables are computed lazily for
// diagnostics; the rest of the pipeline only ever holds Locations.
type File struct {
	Path   string
	Source string

	lineStarts []int
}

// NewFile wraps source text read from path.
func NewFile(path, source string) *File {
	return &File{Path: path, Source: source}
}

// Span is a half-open byte range into a file.
type Span struct {
	Start int
	End   int
}

// Location returns the location of span within f.
func (f *File) Location(span Span) Location {
	return Location{File: f, Span: span}
}

// Position is a 1-based line/column pair.
type Position struct {
	Line   int
	Column int
}

// Position converts a byte offset into a line and column.
func (f *File) Position(offset int) Position {
	if f.lineStarts == nil {
		f.lineStarts = []int{0}
		for i := 0; i < len(f.Source); i++ {
			if f.Source[i] == '\n' {
				f.lineStarts = append(f.lineStarts, i+1)
			}
		}
	}
	line := sort.Search(len(f.lineStarts), func(i int) bool {
		return f.lineStarts[i] > offset
	}) - 1
	if line < 0 {
		line = 0
	}
	return Position{Line: line + 1, Column: offset - f.lineStarts[line] + 1}
}

// Location is an opaque reference to a span of a source file.
type Location struct {
	File *File
	Span Span
}

// IsZero reports whether the location points nowhere.
func (l Location) IsZero() bool {
	return l.File == nil
}

// Start returns the position of the first byte of the span.
func (l Location) Start() Position {
	if l.File == nil {
		return Position{}
	}
	return l.File.Position(l.Span.Start)
}

// End returns the position just past the span.
func (l Location) End() Position {
	if l.File == nil {
		return Position{}
	}
	return l.File.Position(l.Span.End)
}

func (l Location) String() string {
	if l.File == nil {
		return "<unknown>"
	}
	pos := l.Start()
	return fmt.Sprintf("%s:%d:%d", l.File.Path, pos.Line, pos.Column)
}
