package lsif

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// maxLineSize bounds a single dump line; hoverResult vertices can carry
// large documentation payloads.
const maxLineSize = 16 * 1024 * 1024

// Read consumes a dump line by line and returns its elements in order.
// Blank lines are skipped; the first malformed line aborts the read with
// its line number.
func Read(r io.Reader) ([]Element, error) {
	in := NewInterner()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var elements []Element
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		el, err := ParseElement(in, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		elements = append(elements, el)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	return elements, nil
}
