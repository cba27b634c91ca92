package jsonrpc

import (
	"fmt"
	"strconv"
	"strings"
)

// contentLengthKey is the normalized form of the one mandatory header.
const contentLengthKey = "content_length"

// normalizeHeaderKey lower-cases a header key and replaces hyphens with
// underscores, so Content-Length, content-length and CONTENT_LENGTH all
// resolve to the same entry.
func normalizeHeaderKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

// parseHeaders parses a raw header block (CRLF-separated "Key: value"
// lines, without the terminating blank line) into a normalized map and
// extracts the Content-Length byte count.
//
// Some servers write banner text to stdout before protocol traffic
// begins, so anything preceding the first case-insensitive "content"
// prefix is discarded rather than rejected.
func parseHeaders(raw []byte) (map[string]string, int, error) {
	text := string(raw)

	if idx := strings.Index(strings.ToLower(text), "content"); idx > 0 {
		text = text[idx:]
	} else if idx < 0 && strings.TrimSpace(text) != "" {
		return nil, 0, fmt.Errorf("%w: no recognized header in %q", ErrMalformedHeader, truncate(text))
	}

	headers := make(map[string]string)
	for _, line := range strings.Split(text, "\r\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, fmt.Errorf("%w: bad header line %q", ErrMalformedHeader, truncate(line))
		}
		headers[normalizeHeaderKey(key)] = strings.TrimSpace(value)
	}

	lengthStr, ok := headers[contentLengthKey]
	if !ok {
		return nil, 0, fmt.Errorf("%w: missing Content-Length", ErrMalformedHeader)
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil || length < 0 {
		return nil, 0, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedHeader, lengthStr)
	}

	return headers, length, nil
}

// truncate shortens diagnostic text so a garbage chunk cannot flood logs.
func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
