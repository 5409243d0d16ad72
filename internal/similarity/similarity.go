// Package similarity ranks configured sites by how likely a newly seen URL
// is a replacement for them. Domains used for these landing pages rotate
// often while the site name stays, so the name carries most of the weight.
package similarity

import (
	"math"
	"sort"
	"strings"

	"github.com/tentangblockchain/bukitcuan.fun/internal/urlnorm"
)

const (
	scoreExactName      = 2000
	scoreContainsName   = 1500
	similarityFactor    = 15
	minSimilarity       = 30.0
	scorePerCommonChar  = 50
	minCommonLength     = 3
	scoreSameHost       = 500
	scoreSameMainDomain = 300
	scoreSamePath       = 50
	scoreSameScheme     = 10
)

// Site is a configured name/url pair.
type Site struct {
	Name string
	URL  string
}

// Match is a ranked candidate.
type Match struct {
	Name  string
	URL   string
	Score int
}

// CleanName lowercases name and strips a trailing "_url", "-url" and "url"
// in that order.
func CleanName(name string) string {
	n := strings.ToLower(name)
	n = strings.TrimSuffix(n, "_url")
	n = strings.TrimSuffix(n, "-url")
	n = strings.TrimSuffix(n, "url")
	return n
}

// MainDomain returns the label before the last dot, e.g. "mysite" for
// "www.mysite.net". Single-label hosts are returned whole.
func MainDomain(hostname string) string {
	parts := strings.Split(strings.ToLower(hostname), ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return strings.ToLower(hostname)
}

// LongestCommonSubstring returns the length of the longest contiguous run
// shared by a and b, ignoring case.
func LongestCommonSubstring(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	longest := 0
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > longest {
					longest = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return longest
}

// Percent is 100 * lcs / max(len(a), len(b)), or 0 when either is empty.
func Percent(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if la == 0 || lb == 0 {
		return 0
	}
	return float64(LongestCommonSubstring(a, b)) / float64(maxLen) * 100
}

// Score rates how well an existing site matches a parsed candidate URL.
func Score(candidate *urlnorm.Parsed, site Site) (int, bool) {
	existing, err := urlnorm.Parse(site.URL)
	if err != nil {
		return 0, false
	}

	newMain := MainDomain(candidate.Hostname)
	clean := CleanName(site.Name)

	score := 0
	if clean == newMain {
		score += scoreExactName
	}
	if clean != "" && (strings.Contains(clean, newMain) || strings.Contains(newMain, clean)) {
		score += scoreContainsName
	}
	if sim := Percent(clean, newMain); sim >= minSimilarity {
		score += int(math.Floor(sim * similarityFactor))
	}
	if common := LongestCommonSubstring(clean, newMain); common >= minCommonLength {
		score += common * scorePerCommonChar
	}
	if candidate.Hostname == existing.Hostname {
		score += scoreSameHost
	}
	if newMain == MainDomain(existing.Hostname) {
		score += scoreSameMainDomain
	}
	if candidate.Path == existing.Path {
		score += scoreSamePath
	}
	if candidate.Scheme == existing.Scheme {
		score += scoreSameScheme
	}
	return score, true
}

// FindSimilar returns every site scoring above zero, best first. Ties keep
// the order of sites.
func FindSimilar(newURL string, sites []Site) []Match {
	candidate, err := urlnorm.Parse(newURL)
	if err != nil {
		return nil
	}

	var matches []Match
	for _, site := range sites {
		score, ok := Score(candidate, site)
		if !ok || score <= 0 {
			continue
		}
		matches = append(matches, Match{Name: site.Name, URL: site.URL, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Top returns at most n of the best matches.
func Top(matches []Match, n int) []Match {
	if len(matches) > n {
		return matches[:n]
	}
	return matches
}
