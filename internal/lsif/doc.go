// Package lsif reads LSIF (Language Server Index Format) dumps: one JSON
// element per line, each either a vertex (documents, ranges, result sets,
// definition and hover results) or an edge connecting them.
//
// # Architecture
//
// The package is organized around these components:
//
//   - Interner: maps string element ids onto the numeric id space
//   - ParseElement: decodes one line into a typed Element
//   - Read: sequential line reader producing elements in dump order
//   - Index: queryable graph answering definition and hover lookups
//
// # Quick Start
//
// Load a dump and resolve a definition:
//
//	idx, err := lsif.NewIndexFromFile("dump.lsif")
//	if err != nil {
//	    return err
//	}
//	locs := idx.Definition("file:///p/main.go", lsp.Position{Line: 3, Character: 7})
//
// Ids in a dump may be numbers or strings; string ids are interned so the
// index always works with numeric ids internally.
package lsif
