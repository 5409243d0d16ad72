package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/natefinch/atomic"
)

// SnapshotEntry is one site's outcome in a results snapshot.
type SnapshotEntry struct {
	Name         string
	URL          string
	Status       string
	StatusCode   *int
	ResponseTime *int64
	Timestamp    string
	Error        *string
}

// Snapshot is the file written after every completed batch.
type Snapshot struct {
	Timestamp string
	Version   string
	Total     int
	Results   []SnapshotEntry
}

// MarshalEasyJSON writes results as an object keyed by site name, in batch order.
func (s *Snapshot) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"timestamp":`)
	w.String(s.Timestamp)
	w.RawString(`,"version":`)
	w.String(s.Version)
	w.RawString(`,"total":`)
	w.Int(s.Total)
	w.RawString(`,"results":{`)
	for i, e := range s.Results {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(e.Name)
		w.RawString(`:{"status":`)
		w.String(e.Status)
		w.RawString(`,"statusCode":`)
		if e.StatusCode != nil {
			w.Int(*e.StatusCode)
		} else {
			w.RawString("null")
		}
		w.RawString(`,"responseTime":`)
		if e.ResponseTime != nil {
			w.Int64(*e.ResponseTime)
		} else {
			w.RawString("null")
		}
		w.RawString(`,"timestamp":`)
		w.String(e.Timestamp)
		w.RawString(`,"error":`)
		if e.Error != nil {
			w.String(*e.Error)
		} else {
			w.RawString("null")
		}
		w.RawString(`,"url":`)
		w.String(e.URL)
		w.RawByte('}')
	}
	w.RawString("}}")
}

// UnmarshalEasyJSON reads a snapshot, keeping the order of results.
func (s *Snapshot) UnmarshalEasyJSON(in *jlexer.Lexer) {
	*s = Snapshot{}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "timestamp":
			s.Timestamp = in.String()
		case "version":
			s.Version = in.String()
		case "total":
			s.Total = in.Int()
		case "results":
			in.Delim('{')
			for !in.IsDelim('}') {
				e := SnapshotEntry{Name: strings.Clone(in.UnsafeFieldName(false))}
				in.WantColon()
				readEntry(in, &e)
				s.Results = append(s.Results, e)
				in.WantComma()
			}
			in.Delim('}')
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()
}

func readEntry(in *jlexer.Lexer, e *SnapshotEntry) {
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "status":
			e.Status = in.String()
		case "statusCode":
			code := in.Int()
			e.StatusCode = &code
		case "responseTime":
			ms := in.Int64()
			e.ResponseTime = &ms
		case "timestamp":
			e.Timestamp = in.String()
		case "error":
			msg := in.String()
			e.Error = &msg
		case "url":
			e.URL = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

// SnapshotFile reads and writes the results snapshot at a fixed path.
type SnapshotFile struct {
	path string
}

// NewSnapshotFile returns a SnapshotFile for path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Path returns the snapshot file path.
func (f *SnapshotFile) Path() string { return f.path }

// Save writes snap atomically.
func (f *SnapshotFile) Save(snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	data, err := easyjson.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot.
func (f *SnapshotFile) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}
	if err := easyjson.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return snap, nil
}
