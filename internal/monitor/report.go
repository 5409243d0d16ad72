package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
)

// Issue categories used in summaries and alerts.
const (
	CategoryBlocked = "blocked"
	CategoryTimeout = "timeout"
	CategoryDNS     = "dns_error"
	CategorySSL     = "ssl_error"
	CategoryOther   = "other"
)

var categoryOrder = []struct {
	key, emoji, title string
}{
	{CategoryBlocked, "🚫", "Blocked Sites"},
	{CategoryTimeout, "⏰", "Timeout Issues"},
	{CategoryDNS, "🌐", "DNS Errors"},
	{CategorySSL, "🔒", "SSL Errors"},
	{CategoryOther, "❌", "Other Issues"},
}

// Category maps a status onto its issue category; up returns "".
func Category(s checker.Status) string {
	switch s {
	case checker.StatusUp:
		return ""
	case checker.StatusBlocked:
		return CategoryBlocked
	case checker.StatusTimeout:
		return CategoryTimeout
	case checker.StatusDNSError:
		return CategoryDNS
	case checker.StatusSSLError:
		return CategorySSL
	default:
		return CategoryOther
	}
}

// Summary counts a batch's results by category.
type Summary struct {
	Total   int
	Up      int
	Blocked int
	Timeout int
	DNS     int
	SSL     int
	Other   int
}

// Issues is the number of results that are not up.
func (s Summary) Issues() int { return s.Total - s.Up }

func summarize(results []checker.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch Category(r.Status) {
		case "":
			s.Up++
		case CategoryBlocked:
			s.Blocked++
		case CategoryTimeout:
			s.Timeout++
		case CategoryDNS:
			s.DNS++
		case CategorySSL:
			s.SSL++
		default:
			s.Other++
		}
	}
	return s
}

// Report is the outcome of one batch. Results keep configuration order.
type Report struct {
	BatchID    string
	Trigger    string
	Results    []checker.Result
	Summary    Summary
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the batch took.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Issues returns the results that are not up, in batch order.
func (r *Report) Issues() []checker.Result {
	var out []checker.Result
	for _, res := range r.Results {
		if !res.IsUp() {
			out = append(out, res)
		}
	}
	return out
}

// IssuesByCategory groups non-up results by category.
func (r *Report) IssuesByCategory() map[string][]checker.Result {
	out := make(map[string][]checker.Result)
	for _, res := range r.Results {
		if c := Category(res.Status); c != "" {
			out[c] = append(out[c], res)
		}
	}
	return out
}

// Page returns the results on page n (1-based) of the given size. n is
// clamped into range; pages is at least 1.
func (r *Report) Page(n, size int) (items []checker.Result, page, pages int) {
	if size <= 0 {
		size = 10
	}
	pages = (len(r.Results) + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	page = min(max(n, 1), pages)
	start := (page - 1) * size
	end := min(start+size, len(r.Results))
	if start >= end {
		return nil, page, pages
	}
	return r.Results[start:end], page, pages
}

// FormatAlert renders the daily issue alert. It returns "" when every site is up.
func FormatAlert(r *Report, at, details string) string {
	groups := r.IssuesByCategory()
	if len(groups) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("🚨 Daily Check Alert\n\n")
	for _, c := range categoryOrder {
		sites := groups[c.key]
		if len(sites) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s %s (%d):\n", c.emoji, c.title, len(sites))
		for _, s := range sites {
			code := "N/A"
			if s.StatusCode != nil && *s.StatusCode != 0 {
				code = strconv.Itoa(*s.StatusCode)
			}
			fmt.Fprintf(&b, "• %s - %s\n", s.Name, code)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "📊 Summary: %d/%d sites healthy\n", r.Summary.Up, r.Summary.Total)
	fmt.Fprintf(&b, "🕐 Time: %s\n", at)
	if details != "" {
		fmt.Fprintf(&b, "💾 Details: %s", details)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFailure renders the notice sent when a scheduled batch could not run.
func FormatFailure(err error, next string) string {
	return fmt.Sprintf("⚠️ Auto Check Failed\n\nError: %s\n\nNext check: %s", err, next)
}
