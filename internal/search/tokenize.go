package search

import (
	"strings"

	"github.com/orsinium-labs/stopwords"
)

var en = stopwords.MustGet("en")

// buildMatchQuery implements spec.md §4.3 step 1 ("Tokenize query by
// stripping non-alphanumerics and joining surviving tokens with logical
// AND"), enriched with a stopword pass grounded on KittClouds'
// pkg/scanner/discovery/registry.go so a query like "how do I configure
// the embedding provider" doesn't degrade into a near-universal AND of
// function words.
func buildMatchQuery(query string) string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.ToLower(cur.String())
		cur.Reset()
		if en.Contains(tok) {
			return
		}
		tokens = append(tokens, tok)
	}

	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return strings.Join(tokens, " AND ")
}
