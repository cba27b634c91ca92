package lsif

import (
	"encoding/json"
	"os"

	"github.com/dshills/lsprpc/internal/lsp"
)

// Index is the queryable form of a dump. Lookups walk the LSIF graph:
// position → containing range → (next) result set → definitionResult or
// hoverResult → item targets.
type Index struct {
	meta *MetaData

	documents map[lsp.DocumentURI]uint64
	docURIs   map[uint64]lsp.DocumentURI
	ranges    map[uint64]lsp.Range
	docRanges map[uint64][]uint64
	next      map[uint64]uint64
	defs      map[uint64]uint64
	hoverOf   map[uint64]uint64
	hovers    map[uint64]json.RawMessage
	items     map[uint64][]itemTarget
}

// itemTarget is one target of an item edge: a range and the document it
// lives in.
type itemTarget struct {
	rangeID  uint64
	document uint64
}

// NewIndex builds an index from elements in dump order. Edges referring
// to vertices the dump never defined are dropped rather than rejected;
// real indexers emit vertices before the edges that use them.
func NewIndex(elements []Element) *Index {
	idx := &Index{
		documents: make(map[lsp.DocumentURI]uint64),
		docURIs:   make(map[uint64]lsp.DocumentURI),
		ranges:    make(map[uint64]lsp.Range),
		docRanges: make(map[uint64][]uint64),
		next:      make(map[uint64]uint64),
		defs:      make(map[uint64]uint64),
		hoverOf:   make(map[uint64]uint64),
		hovers:    make(map[uint64]json.RawMessage),
		items:     make(map[uint64][]itemTarget),
	}

	for _, el := range elements {
		switch payload := el.Payload.(type) {
		case *MetaData:
			idx.meta = payload
		case *Document:
			idx.documents[payload.URI] = el.ID
			idx.docURIs[el.ID] = payload.URI
		case *lsp.Range:
			idx.ranges[el.ID] = *payload
		case *HoverResult:
			idx.hovers[el.ID] = payload.Result
		case *Edge:
			idx.addEdge(el.Label, payload)
		}
	}
	return idx
}

// NewIndexFromFile reads and indexes a dump file.
func NewIndexFromFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	elements, err := Read(f)
	if err != nil {
		return nil, err
	}
	return NewIndex(elements), nil
}

func (idx *Index) addEdge(label string, e *Edge) {
	switch label {
	case EdgeContains:
		// Only document→range containment matters for lookups; the
		// project→document form carries no range targets.
		if _, ok := idx.docURIs[e.OutV]; !ok {
			return
		}
		for _, inV := range e.InVs {
			if _, ok := idx.ranges[inV]; ok {
				idx.docRanges[e.OutV] = append(idx.docRanges[e.OutV], inV)
			}
		}
	case EdgeNext:
		idx.next[e.OutV] = e.InV
	case EdgeDefinition:
		idx.defs[e.OutV] = e.InV
	case EdgeHover:
		idx.hoverOf[e.OutV] = e.InV
	case EdgeItem:
		for _, inV := range e.InVs {
			idx.items[e.OutV] = append(idx.items[e.OutV], itemTarget{rangeID: inV, document: e.Document})
		}
	}
}

// Metadata returns the dump's metaData vertex, or nil if absent.
func (idx *Index) Metadata() *MetaData {
	return idx.meta
}

// Documents returns the number of indexed documents.
func (idx *Index) Documents() int {
	return len(idx.documents)
}

// Definition resolves the definition locations for the symbol at pos in
// the document named by uri. A nil result means the index holds nothing
// for that position.
func (idx *Index) Definition(uri lsp.DocumentURI, pos lsp.Position) []lsp.Location {
	rangeID, ok := idx.rangeAt(uri, pos)
	if !ok {
		return nil
	}

	defID, ok := idx.resolve(rangeID, idx.defs)
	if !ok {
		return nil
	}

	var locs []lsp.Location
	for _, target := range idx.items[defID] {
		r, ok := idx.ranges[target.rangeID]
		if !ok {
			continue
		}
		targetURI, ok := idx.docURIs[target.document]
		if !ok {
			targetURI = uri
		}
		locs = append(locs, lsp.Location{URI: targetURI, Range: r})
	}
	return locs
}

// Hover resolves the hover payload for the symbol at pos, verbatim as the
// indexer recorded it.
func (idx *Index) Hover(uri lsp.DocumentURI, pos lsp.Position) (json.RawMessage, bool) {
	rangeID, ok := idx.rangeAt(uri, pos)
	if !ok {
		return nil, false
	}

	hoverID, ok := idx.resolve(rangeID, idx.hoverOf)
	if !ok {
		return nil, false
	}
	result, ok := idx.hovers[hoverID]
	return result, ok
}

// rangeAt finds the narrowest range in uri's document containing pos.
func (idx *Index) rangeAt(uri lsp.DocumentURI, pos lsp.Position) (uint64, bool) {
	docID, ok := idx.documents[uri]
	if !ok {
		return 0, false
	}

	var best uint64
	found := false
	for _, rangeID := range idx.docRanges[docID] {
		r := idx.ranges[rangeID]
		if !rangeContains(r, pos) {
			continue
		}
		if !found || narrower(r, idx.ranges[best]) {
			best = rangeID
			found = true
		}
	}
	return best, found
}

// resolve follows at most one next edge from id into its result set and
// returns the edge target recorded in edges for it.
func (idx *Index) resolve(id uint64, edges map[uint64]uint64) (uint64, bool) {
	if target, ok := edges[id]; ok {
		return target, true
	}
	if resultSet, ok := idx.next[id]; ok {
		target, ok := edges[resultSet]
		return target, ok
	}
	return 0, false
}

func rangeContains(r lsp.Range, p lsp.Position) bool {
	if p.Line < r.Start.Line || (p.Line == r.Start.Line && p.Character < r.Start.Character) {
		return false
	}
	if p.Line > r.End.Line || (p.Line == r.End.Line && p.Character >= r.End.Character) {
		return false
	}
	return true
}

// narrower reports whether a spans fewer positions than b. Single-line
// ranges compare by character width, multi-line by line count.
func narrower(a, b lsp.Range) bool {
	aLines := a.End.Line - a.Start.Line
	bLines := b.End.Line - b.Start.Line
	if aLines != bLines {
		return aLines < bLines
	}
	return (a.End.Character - a.Start.Character) < (b.End.Character - b.Start.Character)
}
