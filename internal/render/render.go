// Package render formats engine results as text for the terminal and chat replies.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/history"
	"github.com/tentangblockchain/bukitcuan.fun/internal/monitor"
	"github.com/tentangblockchain/bukitcuan.fun/internal/timefmt"
	"github.com/tentangblockchain/bukitcuan.fun/internal/uptime"
	"github.com/tentangblockchain/bukitcuan.fun/internal/urlnorm"
)

const urlColumnWidth = 60

var statusIcons = map[checker.Status]string{
	checker.StatusUp:                "✅",
	checker.StatusRedirect:          "↪️",
	checker.StatusClientError:       "❌",
	checker.StatusServerError:       "❌",
	checker.StatusBlocked:           "🚫",
	checker.StatusDNSError:          "🌐",
	checker.StatusSSLError:          "🔒",
	checker.StatusTimeout:           "⏰",
	checker.StatusConnectionRefused: "⛔",
	checker.StatusConnectionReset:   "⛔",
	checker.StatusError:             "❌",
}

// DisplayURL keeps long URLs readable in tables and single-line logs.
func DisplayURL(u string) string {
	return urlnorm.Truncate(u, urlColumnWidth)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func statusLabel(res checker.Result) string {
	label := statusIcons[res.Status] + " " + string(res.Status)
	if res.Status == checker.StatusBlocked && res.BlockSource != "" {
		label += " (" + res.BlockSource + ")"
	}
	return label
}

func optInt(p *int) string {
	if p == nil {
		return "N/A"
	}
	return strconv.Itoa(*p)
}

func optMillis(p *int64) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprintf("%dms", *p)
}

func optPercent(p *float64) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", *p)
}

func Result(w io.Writer, res checker.Result) {
	fmt.Fprintf(w, "%s %s\n", statusIcons[res.Status], res.Name)
	fmt.Fprintf(w, "   URL: %s\n", res.URL)
	fmt.Fprintf(w, "   Status: %s\n", statusLabel(res))
	fmt.Fprintf(w, "   Code: %s   Time: %s   Uptime: %s   Attempts: %d\n",
		optInt(res.StatusCode), optMillis(res.ResponseTime), optPercent(res.Uptime), res.Attempts)
	if res.Error != nil {
		fmt.Fprintf(w, "   Error: %s\n", *res.Error)
	}
	if c := res.Cert; c != nil {
		note := ""
		if c.Expiring {
			note = " ⚠️ expiring soon"
		}
		fmt.Fprintf(w, "   Certificate: %s, %d days left%s\n", c.Issuer, c.DaysLeft, note)
	}
}

// Progress prints one line per progress event until events is closed
// or the batch completes.
func Progress(w io.Writer, events <-chan monitor.Event) {
	for ev := range events {
		switch ev.Type {
		case monitor.EventBatchStarted:
			fmt.Fprintf(w, "🔍 Checking %d websites...\n", ev.Total)
		case monitor.EventSiteChecked:
			fmt.Fprintf(w, "[%d/%d] %s %s\n", ev.Index, ev.Total, statusIcons[ev.Result.Status], ev.Result.Name)
		case monitor.EventBatchCompleted:
			return
		}
	}
}

func Report(w io.Writer, r *monitor.Report, page, size int) {
	items, page, pages := r.Page(page, size)

	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Name", "Status", "Code", "Time", "Uptime"})
	offset := (page - 1) * size
	for i, res := range items {
		t.AppendRow(table.Row{offset + i + 1, res.Name, statusLabel(res), optInt(res.StatusCode), optMillis(res.ResponseTime), optPercent(res.Uptime)})
	}
	t.Render()

	s := r.Summary
	fmt.Fprintf(w, "Page %d/%d  •  batch %s  •  %s\n", page, pages, r.BatchID, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "📊 %d/%d up  •  🚫 %d blocked  •  ⏰ %d timeout  •  🌐 %d DNS  •  🔒 %d SSL  •  ❌ %d other\n",
		s.Up, s.Total, s.Blocked, s.Timeout, s.DNS, s.SSL, s.Other)
}

func SiteList(w io.Writer, list *engine.SiteList) {
	if list.Total == 0 {
		fmt.Fprintln(w, "📭 No websites are being monitored.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Name", "URL"})
	for i, s := range list.Sites {
		t.AppendRow(table.Row{list.Offset + i + 1, s.Name, DisplayURL(s.URL)})
	}
	t.Render()
	fmt.Fprintf(w, "Page %d/%d  •  %d websites\n", list.Page, list.Pages, list.Total)
}

func summary(w io.Writer, label string, s *history.Summary) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "%s: %d checks, %.2f%% up, avg %dms\n", label, s.Checks, s.Uptime, s.AvgResponseTime)
}

func OverallStats(w io.Writer, s *engine.OverallStats) {
	t := newTable(w)
	t.AppendRows([]table.Row{
		{"Total sites", s.TotalSites},
		{"Monitored", s.Monitored},
		{"Average uptime", fmt.Sprintf("%.2f%%", s.AvgUptime)},
		{"Total checks", s.TotalChecks},
		{"Successful", s.Successful},
		{"Failed", s.Failed},
	})
	t.Render()
	summary(w, "Last 24h (history)", s.Last24h)
}

func SiteStats(w io.Writer, s *engine.SiteStats, loc *time.Location) {
	fmt.Fprintf(w, "📈 %s\n   URL: %s\n", s.Name, s.URL)
	if !s.Checked {
		fmt.Fprintln(w, "   Not checked yet in this session.")
		summary(w, "   Last 24h (history)", s.Last24h)
		recent(w, s.Recent, loc)
		return
	}
	st := s.Stats
	t := newTable(w)
	t.AppendRows([]table.Row{
		{"Uptime", fmt.Sprintf("%.2f%%", st.Uptime)},
		{"Total checks", st.TotalChecks},
		{"Successful", st.SuccessChecks},
		{"Failed", st.FailedChecks},
		{"Avg response", fmt.Sprintf("%dms", st.AvgResponseTime)},
		{"Monitoring since", st.MonitoringSince},
		{"Last check", st.LastCheck},
	})
	t.Render()
	samples(w, s.Samples)
	summary(w, "Last 24h (history)", s.Last24h)
	recent(w, s.Recent, loc)
}

func samples(w io.Writer, samples []uptime.Sample) {
	if len(samples) == 0 {
		return
	}
	marks := make([]string, len(samples))
	for i, sm := range samples {
		marks[i] = "✅"
		if !sm.Success {
			marks[i] = "❌"
		}
	}
	fmt.Fprintf(w, "Latest checks: %s\n", strings.Join(marks, " "))
}

func recent(w io.Writer, records []history.CheckRecord, loc *time.Location) {
	if len(records) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"At", "Status", "Code", "Time"})
	for _, r := range records {
		t.AppendRow(table.Row{timefmt.Format(r.CreatedAt, loc), r.Status, r.StatusCode, fmt.Sprintf("%dms", r.ResponseTime)})
	}
	t.Render()
}

func Observation(w io.Writer, obs *engine.Observation) {
	switch {
	case obs.ExactMatch != "":
		fmt.Fprintf(w, "ℹ️ %s is already monitored as %s\n", obs.URL, obs.ExactMatch)
	case len(obs.Candidates) > 0:
		fmt.Fprintf(w, "🔄 %s looks like a replacement for:\n", obs.URL)
		for i, c := range obs.Candidates {
			fmt.Fprintf(w, "  %d. %s (%s) score %d\n", i+1, c.Name, urlnorm.Domain(c.URL), c.Score)
		}
	default:
		fmt.Fprintf(w, "🆕 No similar site found. Suggested name: %s\n", obs.SuggestedName)
	}
}

func Added(w io.Writer, res *engine.AddResult) {
	fmt.Fprintf(w, "✅ %s added\n   URL: %s\n   Domain: %s\n", res.Name, res.URL, res.Hostname)
	if res.Query != "" {
		fmt.Fprintf(w, "   Query: %s\n", res.Query)
	}
	if res.SameBase != nil {
		fmt.Fprintf(w, "⚠️ %s already monitors the same page with different parameters:\n   %s\n", res.SameBase.Name, res.SameBase.URL)
	}
	if !res.Redirect.Exists {
		fmt.Fprintf(w, "⚠️ Redirect file %s does not exist yet.\n", res.Redirect.File)
	}
	fmt.Fprintf(w, "📊 Now monitoring %s.\n", Plural(res.Total, "website"))
}

func Deleted(w io.Writer, res *engine.DeleteResult) {
	fmt.Fprintf(w, "🗑️ %s deleted (%s)\n📊 %s left.\n", res.Name, res.URL, Plural(res.Remaining, "website"))
}

func Redirect(w io.Writer, res *engine.RedirectResult) {
	if res.Created {
		fmt.Fprintf(w, "✅ Redirect page for %s created\n", res.Name)
	} else {
		fmt.Fprintf(w, "ℹ️ Redirect page for %s already exists, left unchanged\n", res.Name)
	}
	fmt.Fprintf(w, "   File: %s\n   Target: %s\n", res.Artifact.File, res.URL)
	if res.PublicURL != "" {
		fmt.Fprintf(w, "   Link: %s\n", res.PublicURL)
	}
}

func Edit(w io.Writer, res *engine.EditResult) {
	fmt.Fprintf(w, "✅ %s updated\n   %s → %s\n", res.Name, res.OldHost, res.NewHost)
	fmt.Fprintf(w, "   Old: %s\n   New: %s\n", res.OldURL, res.FinalURL)
	if res.QueryPreserved {
		fmt.Fprintln(w, "   Query parameters were kept from the old URL.")
	}
}

func Plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}

func Indent(s string) string {
	return "   " + strings.ReplaceAll(s, "\n", "\n   ")
}
