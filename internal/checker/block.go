package checker

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/tentangblockchain/bukitcuan.fun/internal/config"
)

// DefaultBlockSource is reported when a block page is recognized by its content.
const DefaultBlockSource = "Internet Positif / Blocked Content"

// shortBodyLimit bounds the "tiny page mentioning block" heuristic.
const shortBodyLimit = 1000

// BlockDetector recognizes filtering pages served in place of the real site.
type BlockDetector struct {
	domains []config.BlockDomain
	phrases *ahocorasick.Matcher
}

// NewBlockDetector builds a detector. Phrase matching is case sensitive.
func NewBlockDetector(domains []config.BlockDomain, phrases []string) *BlockDetector {
	d := &BlockDetector{domains: domains}
	if len(phrases) > 0 {
		d.phrases = ahocorasick.NewStringMatcher(phrases)
	}
	return d
}

// Detect returns the block source when the final URL or the body identifies a block page.
func (d *BlockDetector) Detect(final *url.URL, status int, body []byte) (string, bool) {
	if final != nil {
		host := strings.ToLower(final.Hostname())
		for _, bd := range d.domains {
			h := strings.ToLower(bd.Host)
			if host == h || strings.HasSuffix(host, "."+h) {
				label := bd.Label
				if label == "" {
					label = bd.Host
				}
				return fmt.Sprintf("Blocked by %s (%s)", bd.Source, label), true
			}
		}
	}

	if len(body) == 0 {
		return "", false
	}
	if d.phrases != nil && len(d.phrases.Match(body)) > 0 {
		return DefaultBlockSource, true
	}
	if status == 200 && utf8.RuneCount(body) < shortBodyLimit && bytes.Contains(bytes.ToLower(body), []byte("block")) {
		return DefaultBlockSource, true
	}
	return "", false
}
