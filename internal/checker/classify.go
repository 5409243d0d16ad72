package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

var retryableStatusCodes = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
	522:                           true, // Cloudflare: connection timed out
	524:                           true, // Cloudflare: a timeout occurred
}

// classifyStatus maps a non-blocked HTTP status to its class.
func classifyStatus(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusUp
	case code >= 300 && code < 400:
		return StatusRedirect
	case code >= 400 && code < 500:
		return StatusClientError
	default:
		return StatusServerError
	}
}

// classifyError maps a transport error to a status and an operator-facing message.
func classifyError(err error, timeout time.Duration) (Status, string) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusDNSError, "DNS resolution failed"
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return StatusTimeout, fmt.Sprintf("Request timeout (%dms)", timeout.Milliseconds())
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return StatusConnectionRefused, "Connection refused"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return StatusConnectionReset, "Connection reset by peer"
	}

	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		if invalid.Reason == x509.Expired {
			return StatusSSLError, "SSL certificate expired or not yet valid"
		}
		return StatusSSLError, "SSL certificate verification failed"
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return StatusSSLError, "SSL certificate verification failed"
	}
	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return StatusSSLError, "SSL certificate hostname mismatch"
	}
	var recordHeader tls.RecordHeaderError
	if errors.As(err, &recordHeader) {
		return StatusSSLError, "SSL protocol error (possible ISP blocking)"
	}
	var verification *tls.CertificateVerificationError
	if errors.As(err, &verification) {
		return StatusSSLError, "SSL certificate verification failed"
	}

	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "TLS") || strings.Contains(msg, "SSL") || strings.Contains(msg, "x509:") {
		return StatusSSLError, "SSL/TLS error: " + msg
	}
	return StatusError, msg
}

// retryable reports whether a transport failure of this class is worth another attempt.
func retryable(s Status) bool {
	switch s {
	case StatusDNSError, StatusConnectionRefused, StatusConnectionReset, StatusTimeout:
		return true
	}
	return false
}
