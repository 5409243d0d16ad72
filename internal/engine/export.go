package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
	"github.com/natefinch/atomic"
	"github.com/xuri/excelize/v2"

	"github.com/tentangblockchain/bukitcuan.fun/internal/timefmt"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const xlsxSheet = "Uptime"

var exportHeader = []string{
	"Name", "URL", "Uptime %", "Total Checks", "Successful", "Failed",
	"Avg Response (ms)", "Monitoring Since", "Last Check",
}

// ExportSite is one row of an export.
type ExportSite struct {
	Name            string
	URL             string
	Checked         bool
	Uptime          float64
	TotalChecks     int
	Successful      int
	Failed          int
	AvgResponseTime int64
	MonitoringSince string
	LastCheck       string
}

// ExportData is everything an export file contains.
type ExportData struct {
	Timestamp string
	Sites     []ExportSite
	Total     int
	Monitored int
	AvgUptime float64
}

// MarshalEasyJSON writes sites that were never checked with null stats.
func (d *ExportData) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"timestamp":`)
	w.String(d.Timestamp)
	w.RawString(`,"websites":[`)
	for i, s := range d.Sites {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"name":`)
		w.String(s.Name)
		w.RawString(`,"url":`)
		w.String(s.URL)
		w.RawString(`,"uptime":`)
		if s.Checked {
			w.Float64(s.Uptime)
		} else {
			w.RawString("null")
		}
		w.RawString(`,"totalChecks":`)
		w.Int(s.TotalChecks)
		w.RawString(`,"successfulChecks":`)
		w.Int(s.Successful)
		w.RawString(`,"failedChecks":`)
		w.Int(s.Failed)
		w.RawString(`,"avgResponseTime":`)
		if s.Checked {
			w.Int64(s.AvgResponseTime)
		} else {
			w.RawString("null")
		}
		w.RawString(`,"monitoringSince":`)
		if s.Checked {
			w.String(s.MonitoringSince)
		} else {
			w.RawString("null")
		}
		w.RawString(`,"lastCheck":`)
		w.String(s.LastCheck)
		w.RawByte('}')
	}
	w.RawString(`],"summary":{"total":`)
	w.Int(d.Total)
	w.RawString(`,"monitored":`)
	w.Int(d.Monitored)
	w.RawString(`,"avgUptime":`)
	w.Float64(d.AvgUptime)
	w.RawString(`}}`)
}

// CollectExport collects the current stats of every configured site.
func (e *Engine) CollectExport(ctx context.Context) (*ExportData, error) {
	doc, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	data := &ExportData{
		Timestamp: timefmt.Format(e.now(), e.opts.Location),
		Total:     doc.Websites.Len(),
	}
	var uptimeSum float64
	for _, site := range doc.Websites.List() {
		row := ExportSite{Name: site.Name, URL: site.URL, LastCheck: "Never"}
		if s, ok, _ := e.siteStats(ctx, site.Name); ok {
			row.Checked = true
			row.Uptime = s.Uptime
			row.TotalChecks = s.TotalChecks
			row.Successful = s.SuccessChecks
			row.Failed = s.FailedChecks
			row.AvgResponseTime = s.AvgResponseTime
			row.MonitoringSince = s.MonitoringSince
			row.LastCheck = s.LastCheck
			uptimeSum += s.Uptime
			data.Monitored++
		}
		data.Sites = append(data.Sites, row)
	}
	if data.Monitored > 0 {
		data.AvgUptime = math.Round(uptimeSum/float64(data.Monitored)*100) / 100
	}
	return data, nil
}

// ExportSnapshot writes the current stats to export_<unixmillis>.<format>
// under the export directory and returns the file path.
func (e *Engine) ExportSnapshot(ctx context.Context, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV && format != FormatXLSX {
		return "", NewAppError(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported export format %q, use json, csv or xlsx", format), nil)
	}

	data, err := e.CollectExport(ctx)
	if err != nil {
		return "", err
	}

	var body []byte
	switch format {
	case FormatJSON:
		body, err = encodeJSON(data)
	case FormatCSV:
		body, err = encodeCSV(data)
	case FormatXLSX:
		body, err = encodeXLSX(data)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode %s export: %w", format, err)
	}

	if err := os.MkdirAll(e.opts.ExportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(e.opts.ExportDir, fmt.Sprintf("export_%d.%s", e.now().UnixMilli(), format))
	if err := atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}

	e.logger.Info().Str("path", path).Int("sites", len(data.Sites)).Msg("[Export] Data exported")
	return path, nil
}

func encodeJSON(data *ExportData) ([]byte, error) {
	raw, err := easyjson.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// exportRow renders the CSV/XLSX columns; unknown values become "N/A".
func exportRow(s ExportSite) []string {
	uptime, avg, since := "N/A", "N/A", "N/A"
	if s.Checked {
		uptime = strconv.FormatFloat(s.Uptime, 'f', -1, 64)
		if s.AvgResponseTime > 0 {
			avg = strconv.FormatInt(s.AvgResponseTime, 10)
		}
		since = s.MonitoringSince
	}
	return []string{
		s.Name, s.URL, uptime,
		strconv.Itoa(s.TotalChecks), strconv.Itoa(s.Successful), strconv.Itoa(s.Failed),
		avg, since, s.LastCheck,
	}
}

func encodeCSV(data *ExportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, s := range data.Sites {
		if err := w.Write(exportRow(s)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func encodeXLSX(data *ExportData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, err
	}
	setRow := func(row int, values []string) error {
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(xlsxSheet, cell, v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := setRow(1, exportHeader); err != nil {
		return nil, err
	}
	for i, s := range data.Sites {
		if err := setRow(i+2, exportRow(s)); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
