package checker

import "time"

// Status is the externally visible classification of one check.
type Status string

const (
	StatusUp                Status = "up"
	StatusRedirect          Status = "redirect"
	StatusClientError       Status = "client_error"
	StatusServerError       Status = "server_error"
	StatusBlocked           Status = "blocked"
	StatusDNSError          Status = "dns_error"
	StatusSSLError          Status = "ssl_error"
	StatusTimeout           Status = "timeout"
	StatusConnectionRefused Status = "connection_refused"
	StatusConnectionReset   Status = "connection_reset"
	StatusError             Status = "error"
)

// CertInfo describes the leaf certificate presented by an HTTPS site.
type CertInfo struct {
	Issuer    string
	ValidFrom time.Time
	ValidTo   time.Time
	DaysLeft  int
	Expiring  bool // DaysLeft is under the configured warning threshold
}

// Result is the outcome of one check, retries included.
type Result struct {
	URL          string
	Name         string
	Status       Status
	StatusCode   *int
	ResponseTime *int64 // milliseconds
	Timestamp    time.Time
	Error        *string
	Uptime       *float64
	BlockSource  string
	Cert         *CertInfo
	Attempts     int
}

// IsUp reports whether the site answered with a 2xx and no block page.
func (r Result) IsUp() bool { return r.Status == StatusUp }

// ErrorResult builds a generic error result for a site that could not be checked at all.
func ErrorResult(name, url, msg string, at time.Time) Result {
	return Result{
		URL:       url,
		Name:      name,
		Status:    StatusError,
		Timestamp: at,
		Error:     &msg,
	}
}
