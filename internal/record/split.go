package record

import (
	"strings"
)

// Delimiter opens and closes the metadata block of a record.
const Delimiter = "---"

// Parts is the result of splitting a record into metadata and body.
type Parts struct {
	// Metadata holds lower-cased keys and trimmed, unquoted values.
	Metadata map[string]string
	// Keys lists metadata keys in file order.
	Keys []string
	// Body is everything after the closing delimiter, leading blank lines removed.
	Body string
	// HasMetadata is true when a complete metadata block was found.
	HasMetadata bool
	// Unterminated is true when the record opens a block that never closes.
	Unterminated bool
	// Skipped counts metadata lines that were not key: value pairs.
	Skipped int
}

// SplitRecord separates the metadata block from the body. When the text
// does not start with a delimiter line, or the block is never closed, the
// whole text is the body and metadata is empty.
func SplitRecord(raw string) Parts {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	parts := Parts{Metadata: map[string]string{}}

	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != Delimiter {
		parts.Body = trimLeadingBlankLines(text)
		return parts
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == Delimiter {
			closeIdx = i
			break
		}
	}
	if closeIdx < 0 {
		parts.Unterminated = true
		parts.Body = trimLeadingBlankLines(text)
		return parts
	}

	parts.HasMetadata = true
	for _, line := range lines[1:closeIdx] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := parseMetadataLine(line)
		if !ok {
			parts.Skipped++
			continue
		}
		if _, dup := parts.Metadata[key]; !dup {
			parts.Keys = append(parts.Keys, key)
		}
		parts.Metadata[key] = value
	}
	parts.Body = trimLeadingBlankLines(strings.Join(lines[closeIdx+1:], "\n"))
	return parts
}

// ParseMetadata returns only the metadata map of a record.
func ParseMetadata(raw string) map[string]string {
	return SplitRecord(raw).Metadata
}

// Body returns the body of a record with any metadata block stripped.
func Body(raw string) string {
	return SplitRecord(raw).Body
}

func parseMetadataLine(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(line[:idx]))
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(line[idx+1:])), true
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func trimLeadingBlankLines(s string) string {
	for {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			if strings.TrimSpace(s) == "" {
				return ""
			}
			return s
		}
		if strings.TrimSpace(s[:nl]) != "" {
			return s
		}
		s = s[nl+1:]
	}
}
