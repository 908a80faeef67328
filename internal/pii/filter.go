package pii

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// Mode selects how detected substrings are rewritten.
type Mode string

const (
	// ModeMask preserves the value's shape: email domains, phone
	// prefix/suffix, and IBAN country+check digits survive.
	ModeMask Mode = "mask"
	// ModeHash replaces the value with a stable pseudonym. The same input
	// maps to the same token for the lifetime of the filter.
	ModeHash Mode = "hash"
	// ModeRemove replaces the value with a placeholder naming its category.
	ModeRemove Mode = "remove"
)

// Filter rewrites personal data in structured values.
type Filter struct {
	mode  Mode
	cache *gocache.Cache // value → pseudonym, hash mode only
}

// NewFilter creates a filter for the given mode. Unknown modes mask.
func NewFilter(mode Mode) *Filter {
	switch mode {
	case ModeMask, ModeHash, ModeRemove:
	default:
		mode = ModeMask
	}
	return &Filter{
		mode:  mode,
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// Apply returns a copy of v with detected personal data rewritten. Maps,
// slices, and strings are walked recursively; string leaves are filtered in
// place, every other scalar passes through unchanged. The input is never
// mutated.
func (f *Filter) Apply(v any) any {
	switch val := v.(type) {
	case string:
		return f.FilterString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = f.Apply(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = f.Apply(item)
		}
		return out
	default:
		return v
	}
}

// ApplyJSON filters a raw JSON document. Input that does not parse as JSON
// is treated as one opaque string and comes back as a filtered JSON string.
func (f *Filter) ApplyJSON(raw json.RawMessage) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		out, merr := json.Marshal(f.FilterString(string(raw)))
		if merr != nil {
			return nil, fmt.Errorf("pii: filter raw: %w", merr)
		}
		return out, nil
	}

	out, err := json.Marshal(f.Apply(v))
	if err != nil {
		return nil, fmt.Errorf("pii: marshal filtered: %w", err)
	}
	return out, nil
}

// FilterString rewrites all detected personal data in s.
func (f *Filter) FilterString(s string) string {
	matches := Scan(s)
	for _, m := range matches {
		var replacement string
		switch f.mode {
		case ModeHash:
			replacement = f.pseudonym(m.Value)
		case ModeRemove:
			replacement = fmt.Sprintf("[%s_REMOVED]", strings.ToUpper(string(m.Category)))
		default:
			replacement = mask(m.Value, m.Category)
		}
		s = strings.ReplaceAll(s, m.Value, replacement)
	}
	return s
}

// pseudonym returns the cached token for value, computing it on first use.
func (f *Filter) pseudonym(value string) string {
	if tok, ok := f.cache.Get(value); ok {
		return tok.(string)
	}
	sum := sha256.Sum256([]byte(value))
	tok := fmt.Sprintf("HASH_%x", sum[:4])
	f.cache.Set(value, tok, gocache.NoExpiration)
	return tok
}

// mask applies the category's shape-preserving rule.
func mask(value string, category Category) string {
	switch category {
	case CategoryEmail:
		if at := strings.LastIndex(value, "@"); at > 0 {
			local := value[:at]
			keep := 2
			if len(local) < keep {
				keep = 0
			}
			return local[:keep] + strings.Repeat("*", len(local)-keep) + value[at:]
		}
	case CategoryPhone:
		if len(value) > 4 {
			return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
		}
	case CategoryIBAN:
		if len(value) > 8 {
			return value[:8] + strings.Repeat("*", len(value)-8)
		}
	}
	// Generic rule: keep two characters at each end.
	if len(value) > 4 {
		return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
	}
	return strings.Repeat("*", len(value))
}
