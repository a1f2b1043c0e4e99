package tree

import (
	"strings"
	"unicode"
)

const snippetRadius = 40

// Match is a search hit. TargetLeafID is the leaf to open so the hit is
// shown with its full continuation.
type Match struct {
	NodeID       string `json:"nodeId"`
	TargetLeafID string `json:"targetLeafId"`
	Role         Role   `json:"role"`
	Snippet      string `json:"snippet"`
}

// Keywords splits a query on whitespace, including the ideographic space,
// and lowercases each term.
func Keywords(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || r == '　'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// MatchesAll reports whether text contains every keyword, ignoring case.
func MatchesAll(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if !strings.Contains(lower, k) {
			return false
		}
	}
	return true
}

// SearchTree finds every node whose content holds all keywords of query.
// Each hit targets the newest leaf below the matched node.
func SearchTree(root *MessageBranch, query string) []Match {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil
	}
	var matches []Match
	Walk(root, func(n *MessageNode, _ int) bool {
		if MatchesAll(n.Content, keywords) {
			matches = append(matches, newMatch(n, DeepestLast(n).ID, keywords))
		}
		return true
	})
	return matches
}

// SearchLinearBranch searches an already linear list of nodes. Hits target
// overrideLeafID when given, otherwise the last node of the list.
func SearchLinearBranch(nodes []*MessageNode, query, overrideLeafID string) []Match {
	keywords := Keywords(query)
	if len(keywords) == 0 || len(nodes) == 0 {
		return nil
	}
	target := overrideLeafID
	if target == "" {
		target = nodes[len(nodes)-1].ID
	}
	seen := make(map[string]bool)
	var matches []Match
	for _, n := range nodes {
		if seen[n.ID] || !MatchesAll(n.Content, keywords) {
			continue
		}
		seen[n.ID] = true
		matches = append(matches, newMatch(n, target, keywords))
	}
	return matches
}

func newMatch(n *MessageNode, target string, keywords []string) Match {
	return Match{
		NodeID:       n.ID,
		TargetLeafID: target,
		Role:         n.Role,
		Snippet:      Snippet(n.Content, keywords[0]),
	}
}

// Snippet returns a window of text around the first occurrence of keyword.
func Snippet(text, keyword string) string {
	runes := []rune(text)
	lower := []rune(strings.ToLower(text))
	kw := []rune(keyword)
	pos := indexRunes(lower, kw)
	if pos < 0 || len(lower) != len(runes) {
		pos = 0
	}
	start := pos - snippetRadius
	if start < 0 {
		start = 0
	}
	end := pos + len(kw) + snippetRadius
	if end > len(runes) {
		end = len(runes)
	}
	s := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		s = "…" + s
	}
	if end < len(runes) {
		s += "…"
	}
	return s
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
