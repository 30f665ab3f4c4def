// Package frontmatter splits Markdown notes around their `---` metadata block,
// decodes the recognized keys into a defaulted record, rewrites individual keys
// in place, and extracts [[wikilinks]] from the body.
package frontmatter

import (
	"bytes"
	"path"
	"regexp"
	"strings"
)

const delim = "---"

var (
	bom        = []byte{0xEF, 0xBB, 0xBF}
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
)

// Document is a note split around its metadata block. Offsets point into the
// original bytes so that rewrites can leave everything else untouched.
type Document struct {
	raw        []byte
	hasBlock   bool
	blockStart int // first byte after the opening delimiter line
	blockEnd   int // first byte of the closing delimiter line
	bodyStart  int // first byte after the closing delimiter line
}

// Split locates the metadata block. The block must open on the first line of
// the file (an optional UTF-8 BOM is tolerated) with a line that is exactly
// "---" and close with the next line that is exactly "---". Anything else means
// the whole file is body.
func Split(data []byte) Document {
	doc := Document{raw: data}

	start := 0
	if bytes.HasPrefix(data, bom) {
		start = len(bom)
	}
	first, next := readLine(data, start)
	if !isDelim(first) {
		return doc
	}

	for pos := next; pos < len(data); {
		line, nl := readLine(data, pos)
		if isDelim(line) {
			doc.hasBlock = true
			doc.blockStart = next
			doc.blockEnd = pos
			doc.bodyStart = nl
			return doc
		}
		pos = nl
	}
	return doc
}

// HasBlock reports whether a complete metadata block was found.
func (d Document) HasBlock() bool { return d.hasBlock }

// Block returns the raw YAML between the delimiters (nil when absent).
func (d Document) Block() []byte {
	if !d.hasBlock {
		return nil
	}
	return d.raw[d.blockStart:d.blockEnd]
}

// Body returns everything after the closing delimiter, or the whole file.
func (d Document) Body() []byte {
	if !d.hasBlock {
		return d.raw
	}
	return d.raw[d.bodyStart:]
}

func readLine(data []byte, pos int) ([]byte, int) {
	i := bytes.IndexByte(data[pos:], '\n')
	if i < 0 {
		return data[pos:], len(data)
	}
	return data[pos : pos+i], pos + i + 1
}

func isDelim(line []byte) bool {
	return string(bytes.TrimSuffix(line, []byte("\r"))) == delim
}

// ExtractLinks returns deduplicated wikilink targets in first-seen order.
// [[Target|Alias]] yields Target; a target without an extension gets ".md".
func ExtractLinks(body []byte) []string {
	matches := wikilinkRe.FindAllSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := string(m[1])
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = NormalizeKey(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// NormalizeKey trims a link target and appends ".md" when it has no extension.
func NormalizeKey(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if path.Ext(target) == "" {
		target += ".md"
	}
	return target
}
