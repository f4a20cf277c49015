package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// fold returns the case-folded NFC form used for both indexed text and
// query terms.
func fold(s string) string {
	// A Caser carries state and must not be shared between goroutines.
	return norm.NFC.String(cases.Fold().String(s))
}

// extractText flattens a JSON document into one searchable body made of
// its object keys and scalar leaves.
func extractText(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", fmt.Errorf("invalid JSON: unexpected data after top-level value")
	}

	var words []string
	collectText(doc, &words)
	return fold(strings.Join(words, " ")), nil
}

func collectText(v any, words *[]string) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			*words = append(*words, k)
			collectText(val[k], words)
		}
	case []any:
		for _, elem := range val {
			collectText(elem, words)
		}
	case string:
		*words = append(*words, val)
	case json.Number:
		*words = append(*words, val.String())
	case bool:
		if val {
			*words = append(*words, "true")
		} else {
			*words = append(*words, "false")
		}
	}
}

// foldQuery folds every query word except the full-text operators, which
// the query parser only recognizes in upper case.
func foldQuery(query string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		if isOperator(f) {
			continue
		}
		fields[i] = fold(f)
	}
	return strings.Join(fields, " ")
}

func isOperator(word string) bool {
	switch word {
	case "AND", "OR", "NOT", "NEAR":
		return true
	}
	return strings.HasPrefix(word, "NEAR/")
}
