package frontmatter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Recognized metadata keys.
const (
	KeyTitle  = "title"
	KeyTags   = "tags"
	KeyWeight = "poids"
	KeyDate   = "date_updated"
	KeyID     = "uid"
	KeyScore  = "score"
)

// DateLayout is the only accepted format for KeyDate.
const DateLayout = "2006-01-02"

// Defaults supplies the values used when a key is absent or unusable.
type Defaults struct {
	Weight float64
	Now    time.Time
}

// Metadata is the typed view of a metadata block. Every field is populated:
// missing or malformed values fall back to Defaults.
type Metadata struct {
	Title       string
	Tags        []string
	Weight      float64
	DateUpdated time.Time
	ID          string
	Score       float64
	HasScore    bool
	// Malformed is set when the block was present but not a YAML mapping.
	Malformed bool
}

// Decode parses block permissively. It never fails: invalid YAML yields an
// all-defaults record with Malformed set.
func Decode(block []byte, def Defaults) Metadata {
	md := Metadata{Weight: def.Weight, DateUpdated: def.Now}
	if len(strings.TrimSpace(string(block))) == 0 {
		return md
	}

	var raw map[string]any
	if err := yaml.Unmarshal(block, &raw); err != nil {
		md.Malformed = true
		return md
	}

	md.Title = strings.TrimSpace(stringValue(raw[KeyTitle]))
	md.Tags = stringList(raw[KeyTags])
	md.ID = stringValue(raw[KeyID])
	if w, ok := number(raw[KeyWeight]); ok {
		md.Weight = w
	}
	if d, ok := date(raw[KeyDate]); ok {
		md.DateUpdated = d
	}
	if s, ok := number(raw[KeyScore]); ok {
		md.Score, md.HasScore = s, true
	}
	return md
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v any) []string {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case string:
		items = []any{t}
	default:
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		s := strings.TrimPrefix(strings.TrimSpace(stringValue(item)), "#")
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint64:
		f = float64(t)
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func date(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(t), time.Local)
		if err != nil {
			return time.Time{}, false
		}
		return d, true
	}
	return time.Time{}, false
}
