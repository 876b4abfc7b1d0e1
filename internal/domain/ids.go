package domain

import "strings"

// ============================================================
// Id normalization helpers
// ============================================================

// EffectiveIDs resolves a role's team ids from the two historical record
// shapes. A non-empty singular field is authoritative; otherwise the legacy
// array field is used. The result is never nil.
func EffectiveIDs(singular string, plural []string) []string {
	if s := strings.TrimSpace(singular); s != "" {
		return []string{s}
	}
	return UniqueIDs(plural)
}

// UniqueIDs returns ids with blanks removed and duplicates dropped,
// preserving first-seen order. The result is never nil.
func UniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ContainsAny reports whether any of candidates appears in list.
// Blank candidates never match.
func ContainsAny(list []string, candidates ...string) bool {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, id := range list {
			if id == c {
				return true
			}
		}
	}
	return false
}

// MergeIDs unions several id lists into one deduplicated list.
func MergeIDs(lists ...[]string) []string {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	return UniqueIDs(all)
}
