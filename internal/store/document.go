package store

import (
	"errors"
	"strings"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// CurrentVersion is written into every saved configuration document.
const CurrentVersion = "1.0"

// Site is one monitored name/url pair.
type Site struct {
	Name string
	URL  string
}

// Sites is an insertion-ordered name to url map. The zero value is empty and ready to use.
type Sites struct {
	names []string
	urls  map[string]string
}

// Get returns the url stored under name.
func (s *Sites) Get(name string) (string, bool) {
	u, ok := s.urls[name]
	return u, ok
}

// Set stores url under name, appending name when it is new.
func (s *Sites) Set(name, url string) {
	if s.urls == nil {
		s.urls = make(map[string]string)
	}
	if _, ok := s.urls[name]; !ok {
		s.names = append(s.names, name)
	}
	s.urls[name] = url
}

// Delete removes name and reports whether it was present.
func (s *Sites) Delete(name string) bool {
	if _, ok := s.urls[name]; !ok {
		return false
	}
	delete(s.urls, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of sites.
func (s *Sites) Len() int { return len(s.names) }

// List returns the sites in insertion order.
func (s *Sites) List() []Site {
	out := make([]Site, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, Site{Name: n, URL: s.urls[n]})
	}
	return out
}

// Document is the persisted configuration.
type Document struct {
	Websites      Sites
	LastCheckTime string // RFC 3339, empty when never set
	Version       string

	// Legacy is set when the document was read from the old bare-map shape.
	Legacy bool
}

// NewDocument returns an empty document at the current version.
func NewDocument() *Document {
	return &Document{Version: CurrentVersion}
}

var errWebsitesShape = errors.New(`"websites" must be an object`)

var errLegacyValue = errors.New("legacy site entries must be strings")

// MarshalEasyJSON writes the document with websites in insertion order.
func (d *Document) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"websites":{`)
	for i, site := range d.Websites.List() {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(site.Name)
		w.RawByte(':')
		w.String(site.URL)
	}
	w.RawString(`},"last_check_time":`)
	if d.LastCheckTime == "" {
		w.RawString("null")
	} else {
		w.String(d.LastCheckTime)
	}
	w.RawString(`,"version":`)
	version := d.Version
	if version == "" {
		version = CurrentVersion
	}
	w.String(version)
	w.RawByte('}')
}

// UnmarshalEasyJSON accepts both the current shape and the legacy shape, in
// which the document itself is the name to url map.
func (d *Document) UnmarshalEasyJSON(in *jlexer.Lexer) {
	var (
		wrapped   bool
		badLegacy bool
		legacy    Sites
	)
	*d = Document{}

	in.Delim('{')
	for !in.IsDelim('}') {
		key := strings.Clone(in.UnsafeFieldName(false))
		in.WantColon()

		switch key {
		case "websites":
			wrapped = true
			if in.IsNull() {
				in.Skip()
				break
			}
			if !in.IsDelim('{') {
				in.AddError(errWebsitesShape)
				return
			}
			readSites(in, &d.Websites)
		case "last_check_time":
			wrapped = true
			if in.IsNull() {
				in.Skip()
			} else {
				d.LastCheckTime = in.String()
			}
		case "version":
			if in.IsNull() {
				in.Skip()
			} else {
				d.Version = in.String()
			}
		default:
			if v, ok := in.Interface().(string); ok {
				legacy.Set(key, v)
			} else {
				badLegacy = true
			}
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()

	if !wrapped {
		if badLegacy {
			in.AddError(errLegacyValue)
			return
		}
		d.Websites = legacy
		d.Legacy = true
	}
	if d.Version == "" {
		d.Version = CurrentVersion
	}
}

func readSites(in *jlexer.Lexer, sites *Sites) {
	in.Delim('{')
	for !in.IsDelim('}') {
		name := strings.Clone(in.UnsafeFieldName(false))
		in.WantColon()
		if in.IsNull() {
			in.Skip()
		} else {
			sites.Set(name, in.String())
		}
		in.WantComma()
	}
	in.Delim('}')
}
