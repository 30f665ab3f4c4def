package frontmatter

import (
	"bytes"
	"strings"
)

// Field is a top-level scalar key to write into the metadata block.
type Field struct {
	Key   string
	Value string
}

// SetFields writes each field as a single "key: value" line of the metadata
// block. An existing line for the key is replaced (together with any indented
// continuation lines when the value was a nested block); a missing key is
// appended before the closing delimiter. Every other byte of data is kept as is.
// A file without a block gets a new block prepended.
func SetFields(data []byte, fields ...Field) []byte {
	if len(fields) == 0 {
		return data
	}

	doc := Split(data)
	if !doc.hasBlock {
		return prependBlock(data, fields)
	}

	lines := doc.lines()
	eol := doc.eol()
	for _, f := range fields {
		line := f.Key + ": " + f.Value
		idx := findKey(lines, f.Key)
		if idx < 0 {
			lines = append(lines, line+eol)
			continue
		}
		end := idx + 1
		if v, _ := keyValue(lines[idx], f.Key); v == "" {
			for end < len(lines) && isContinuation(lines[end]) {
				end++
			}
		}
		next := make([]string, 0, len(lines))
		next = append(next, lines[:idx]...)
		next = append(next, line+lineTerm(lines[idx], eol))
		next = append(next, lines[end:]...)
		lines = next
	}
	return doc.assemble(lines)
}

// ReplaceListItem swaps one item of a list-valued key (block list, flow list or
// a lone scalar). It reports false and returns data unchanged when the key or
// the item is not present.
func ReplaceListItem(data []byte, key, oldItem, newItem string) ([]byte, bool) {
	doc := Split(data)
	if !doc.hasBlock {
		return data, false
	}
	lines := doc.lines()
	idx := findKey(lines, key)
	if idx < 0 {
		return data, false
	}
	value, _ := keyValue(lines[idx], key)
	term := lineTerm(lines[idx], doc.eol())

	switch {
	case value == "":
		for j := idx + 1; j < len(lines) && isContinuation(lines[j]); j++ {
			s := strings.TrimRight(lines[j], "\r\n")
			trimmed := strings.TrimLeft(s, " \t")
			if !strings.HasPrefix(trimmed, "-") {
				continue
			}
			item := strings.TrimSpace(trimmed[1:])
			if unquote(item) != oldItem {
				continue
			}
			indent := s[:len(s)-len(trimmed)]
			lines[j] = indent + "- " + requote(item, newItem) + lineTerm(lines[j], doc.eol())
			return doc.assemble(lines), true
		}
		return data, false

	case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
		parts := strings.Split(value[1:len(value)-1], ",")
		found := false
		for i, p := range parts {
			p = strings.TrimSpace(p)
			if !found && unquote(p) == oldItem {
				p = requote(p, newItem)
				found = true
			}
			parts[i] = p
		}
		if !found {
			return data, false
		}
		lines[idx] = key + ": [" + strings.Join(parts, ", ") + "]" + term
		return doc.assemble(lines), true

	default:
		if unquote(value) != oldItem {
			return data, false
		}
		lines[idx] = key + ": " + requote(value, newItem) + term
		return doc.assemble(lines), true
	}
}

func prependBlock(data []byte, fields []Field) []byte {
	var b bytes.Buffer
	rest := data
	if bytes.HasPrefix(rest, bom) {
		b.Write(bom)
		rest = rest[len(bom):]
	}
	b.WriteString(delim + "\n")
	for _, f := range fields {
		b.WriteString(f.Key + ": " + f.Value + "\n")
	}
	b.WriteString(delim + "\n")
	b.Write(rest)
	return b.Bytes()
}

// lines returns the block split after each '\n'; terminators are kept.
func (d Document) lines() []string {
	block := string(d.Block())
	if block == "" {
		return nil
	}
	parts := strings.SplitAfter(block, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func (d Document) eol() string {
	if d.blockStart >= 2 && d.raw[d.blockStart-2] == '\r' {
		return "\r\n"
	}
	return "\n"
}

func (d Document) assemble(lines []string) []byte {
	var b bytes.Buffer
	b.Grow(len(d.raw) + 64)
	b.Write(d.raw[:d.blockStart])
	for _, l := range lines {
		b.WriteString(l)
	}
	b.Write(d.raw[d.blockEnd:])
	return b.Bytes()
}

func findKey(lines []string, key string) int {
	for i, l := range lines {
		if _, ok := keyValue(l, key); ok {
			return i
		}
	}
	return -1
}

// keyValue matches an unindented "key:" line and returns the inline value.
func keyValue(line, key string) (string, bool) {
	s := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(s, key) {
		return "", false
	}
	rest := strings.TrimLeft(s[len(key):], " \t")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}

func isContinuation(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t' || line[0] == '-')
}

func lineTerm(line, fallback string) string {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return "\r\n"
	case strings.HasSuffix(line, "\n"):
		return "\n"
	}
	return fallback
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.TrimPrefix(s, "#")
}

func requote(original, value string) string {
	if len(original) >= 2 && (original[0] == '"' || original[0] == '\'') && original[len(original)-1] == original[0] {
		return string(original[0]) + value + string(original[0])
	}
	return value
}
