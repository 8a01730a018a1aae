package backend

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Profile is a farm document as returned by the service. Its fields vary by
// deployment, so it is kept as a map; accessors cover the keys the
// assistant reads.
type Profile map[string]any

// Get returns the value at key rendered as a string, or fallback when the
// key is absent, null or empty.
func (p Profile) Get(key, fallback string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return fallback
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		s = fmt.Sprint(t)
	}
	if s == "" {
		return fallback
	}
	return s
}

// Strings returns the value at key as a string slice. A single string is
// returned as a one-element slice.
func (p Profile) Strings(key string) []string {
	switch t := p[key].(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if v != nil {
				out = append(out, fmt.Sprint(v))
			}
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	default:
		return []string{}
	}
}

// FarmID returns the farm's identifier.
func (p Profile) FarmID() string {
	for _, k := range []string{"id", "_id", "farmId", "farm_id"} {
		if v := p.Get(k, ""); v != "" {
			return v
		}
	}
	return ""
}

// PreferredLanguage returns the farmer's language code, defaulting to "en".
// Older documents spell the key in camel case.
func (p Profile) PreferredLanguage() string {
	return p.Get("preferred_language", p.Get("preferredLanguage", "en"))
}

// PrimaryCrop returns the farm's primary crop, or fallback.
func (p Profile) PrimaryCrop(fallback string) string {
	return p.Get("primary_crop", fallback)
}

// Village returns the farm's village, used for weather lookup.
func (p Profile) Village() string {
	return p.Get("village", "")
}

// String renders the profile as "key: value" pairs in sorted key order,
// for inclusion in prompts.
func (p Profile) String() string {
	return renderMap(p)
}

// renderMap formats m deterministically for prompts.
func renderMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, m[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Alert is a proactive notice for a farmer. All fields are required.
type Alert struct {
	ID         string `json:"id"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// missingField returns the JSON name of the first empty required field.
func (a Alert) missingField() string {
	switch {
	case a.ID == "":
		return "id"
	case a.Severity == "":
		return "severity"
	case a.Title == "":
		return "title"
	case a.Message == "":
		return "message"
	case a.Suggestion == "":
		return "suggestion"
	}
	return ""
}
