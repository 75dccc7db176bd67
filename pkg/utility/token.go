package utility

import (
	"fmt"
	"strings"
)

const (
	loginTokenStart = `data-token="`
	loginTokenEnd   = `"`
)

// LoginTokenIndex is the occurrence of data-token on the login page that holds
// the bearer token. The first marker on the page belongs to an unrelated
// widget.
// TODO: confirm against the live page whether the marker can be picked by its
// surrounding element instead of by position.
const LoginTokenIndex = 1

// extractAll returns every substring of text found between start and the next
// end after it. The search for the next start resumes right after the previous
// start marker, so markers nested inside a value are found too. Scanning stops
// at a start with no matching end.
func extractAll(text, start, end string) []string {
	var results []string
	pos := 0
	for {
		i := strings.Index(text[pos:], start)
		if i == -1 {
			return results
		}
		pos += i + len(start)
		j := strings.Index(text[pos:], end)
		if j == -1 {
			return results
		}
		results = append(results, text[pos:pos+j])
	}
}

// ExtractLoginToken returns the bearer token embedded in the login page html.
func ExtractLoginToken(html string) (string, error) {
	tokens := extractAll(html, loginTokenStart, loginTokenEnd)
	if len(tokens) <= LoginTokenIndex {
		return "", &ProviderError{
			Kind: ErrTokenRetrieval,
			Op:   "extract login token",
			Err:  fmt.Errorf("found %d token markers, need at least %d", len(tokens), LoginTokenIndex+1),
		}
	}
	return tokens[LoginTokenIndex], nil
}
