package lsif

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/dshills/lsprpc/internal/lsp"
)

// ErrInvalidElement indicates a line that is not a usable LSIF element.
var ErrInvalidElement = errors.New("invalid lsif element")

// Element types.
const (
	TypeVertex = "vertex"
	TypeEdge   = "edge"
)

// Vertex labels the index consumes. Other labels parse with a nil
// payload and are carried through unindexed.
const (
	VertexMetaData         = "metaData"
	VertexDocument         = "document"
	VertexRange            = "range"
	VertexResultSet        = "resultSet"
	VertexDefinitionResult = "definitionResult"
	VertexHoverResult      = "hoverResult"
)

// Edge labels the index consumes.
const (
	EdgeContains   = "contains"
	EdgeItem       = "item"
	EdgeNext       = "next"
	EdgeDefinition = "textDocument/definition"
	EdgeHover      = "textDocument/hover"
)

// Element is one decoded line of a dump. Payload holds the label's typed
// payload (*Edge, *MetaData, *Document, *lsp.Range, *HoverResult) or nil
// for labels the index has no use for.
type Element struct {
	ID      uint64
	Type    string
	Label   string
	Payload any
}

// Edge connects vertices. InV carries a single target, InVs a target
// list; which one a label uses follows the LSIF spec. Document is set on
// item edges to name the document the targets belong to.
type Edge struct {
	OutV     uint64
	InV      uint64
	InVs     []uint64
	Document uint64
}

// MetaData is the dump's leading metaData vertex.
type MetaData struct {
	Version          string
	ProjectRoot      string
	PositionEncoding string
}

// Document is a document vertex payload.
type Document struct {
	URI        lsp.DocumentURI
	LanguageID string
}

// HoverResult carries a hoverResult vertex's result object verbatim, so
// a server can hand it back on the wire without reshaping it.
type HoverResult struct {
	Result json.RawMessage
}

// ParseElement decodes one dump line. String ids are resolved through
// the interner.
func ParseElement(in *Interner, line []byte) (Element, error) {
	if !gjson.ValidBytes(line) {
		return Element{}, fmt.Errorf("%w: not valid json", ErrInvalidElement)
	}

	id, err := parseID(in, gjson.GetBytes(line, "id"))
	if err != nil {
		return Element{}, err
	}
	elType := gjson.GetBytes(line, "type")
	label := gjson.GetBytes(line, "label")
	if elType.Type != gjson.String || label.Type != gjson.String {
		return Element{}, fmt.Errorf("%w: missing type or label", ErrInvalidElement)
	}

	el := Element{ID: id, Type: elType.Str, Label: label.Str}
	switch {
	case el.Type == TypeEdge:
		el.Payload, err = parseEdge(in, line)
	case el.Type == TypeVertex:
		el.Payload, err = parseVertex(el.Label, line)
	default:
		return Element{}, fmt.Errorf("%w: unknown type %q", ErrInvalidElement, el.Type)
	}
	if err != nil {
		return Element{}, err
	}
	return el, nil
}

func parseID(in *Interner, v gjson.Result) (uint64, error) {
	switch v.Type {
	case gjson.Number:
		return v.Uint(), nil
	case gjson.String:
		return in.Intern(v.Str), nil
	default:
		return 0, fmt.Errorf("%w: id is neither number nor string", ErrInvalidElement)
	}
}

func parseEdge(in *Interner, line []byte) (*Edge, error) {
	outV := gjson.GetBytes(line, "outV")
	if !outV.Exists() {
		return nil, fmt.Errorf("%w: edge without outV", ErrInvalidElement)
	}

	edge := &Edge{}
	var err error
	if edge.OutV, err = parseID(in, outV); err != nil {
		return nil, err
	}
	if v := gjson.GetBytes(line, "inV"); v.Exists() {
		if edge.InV, err = parseID(in, v); err != nil {
			return nil, err
		}
	}
	if v := gjson.GetBytes(line, "document"); v.Exists() {
		if edge.Document, err = parseID(in, v); err != nil {
			return nil, err
		}
	}
	for _, v := range gjson.GetBytes(line, "inVs").Array() {
		id, err := parseID(in, v)
		if err != nil {
			return nil, err
		}
		edge.InVs = append(edge.InVs, id)
	}
	return edge, nil
}

func parseVertex(label string, line []byte) (any, error) {
	switch label {
	case VertexMetaData:
		return &MetaData{
			Version:          gjson.GetBytes(line, "version").Str,
			ProjectRoot:      gjson.GetBytes(line, "projectRoot").Str,
			PositionEncoding: gjson.GetBytes(line, "positionEncoding").Str,
		}, nil

	case VertexDocument:
		uri := gjson.GetBytes(line, "uri")
		if uri.Type != gjson.String {
			return nil, fmt.Errorf("%w: document without uri", ErrInvalidElement)
		}
		return &Document{
			URI:        lsp.DocumentURI(uri.Str),
			LanguageID: gjson.GetBytes(line, "languageId").Str,
		}, nil

	case VertexRange:
		var r lsp.Range
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("%w: bad range: %v", ErrInvalidElement, err)
		}
		return &r, nil

	case VertexHoverResult:
		result := gjson.GetBytes(line, "result")
		if !result.Exists() {
			return nil, fmt.Errorf("%w: hoverResult without result", ErrInvalidElement)
		}
		return &HoverResult{Result: json.RawMessage(result.Raw)}, nil

	default:
		// resultSet, definitionResult, and everything the index does not
		// consume carry no payload.
		return nil, nil
	}
}
