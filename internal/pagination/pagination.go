// Package pagination detects page-number patterns in listing URLs and
// rewrites them to target arbitrary pages. The session runner uses it to
// parameterize each iteration's start URL and to build resume URLs after a
// stall.
package pagination

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pattern identifies the pagination style detected in a URL.
type Pattern string

const (
	PatternQueryPage Pattern = "query_page" // ?page=N
	PatternQueryP    Pattern = "query_p"    // ?p=N
	PatternPath      Pattern = "path"       // /page/N or /page-N
	PatternOffset    Pattern = "offset"     // ?offset=N
	PatternNone      Pattern = "none"
)

// offsetStep is the assumed page size for offset-style pagination.
const offsetStep = 20

var (
	reQueryPage = regexp.MustCompile(`(?i)([?&]page=)(\d+)`)
	reQueryP    = regexp.MustCompile(`(?i)([?&]p=)(\d+)`)
	rePath      = regexp.MustCompile(`(?i)(/page[/-])(\d+)`)
	reOffset    = regexp.MustCompile(`(?i)([?&]offset=)(\d+)`)
)

// Detect returns the pagination pattern present in the URL, if any.
func Detect(url string) Pattern {
	switch {
	case reQueryPage.MatchString(url):
		return PatternQueryPage
	case reQueryP.MatchString(url):
		return PatternQueryP
	case rePath.MatchString(url):
		return PatternPath
	case reOffset.MatchString(url):
		return PatternOffset
	}
	return PatternNone
}

// ExtractPageNumber returns the page number encoded in the URL, or 1 when no
// pagination pattern is present.
func ExtractPageNumber(url string) int {
	if url == "" {
		return 1
	}

	for _, re := range []*regexp.Regexp{reQueryPage, reQueryP, rePath} {
		if m := re.FindStringSubmatch(url); m != nil {
			if n, err := strconv.Atoi(m[2]); err == nil {
				return n
			}
		}
	}

	if m := reOffset.FindStringSubmatch(url); m != nil {
		if offset, err := strconv.Atoi(m[2]); err == nil {
			return offset/offsetStep + 1
		}
	}

	return 1
}

// PageURL rewrites the URL to target the given page, substituting whatever
// pagination pattern the URL already carries. URLs with no pattern get a
// page query parameter appended.
func PageURL(baseURL string, page int) string {
	if page < 1 {
		page = 1
	}

	if reQueryPage.MatchString(baseURL) {
		return reQueryPage.ReplaceAllString(baseURL, "${1}"+strconv.Itoa(page))
	}
	if reQueryP.MatchString(baseURL) {
		return reQueryP.ReplaceAllString(baseURL, "${1}"+strconv.Itoa(page))
	}
	if rePath.MatchString(baseURL) {
		return rePath.ReplaceAllString(baseURL, "${1}"+strconv.Itoa(page))
	}
	if reOffset.MatchString(baseURL) {
		return reOffset.ReplaceAllString(baseURL, "${1}"+strconv.Itoa((page-1)*offsetStep))
	}

	separator := "?"
	if strings.Contains(baseURL, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%spage=%d", baseURL, separator, page)
}
