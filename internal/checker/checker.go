// Package checker requests a single URL and classifies the outcome, including
// ISP-level block pages, with bounded retries for transient failures.
package checker

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tentangblockchain/bukitcuan.fun/internal/config"
)

// Recorder receives every terminal check outcome.
type Recorder interface {
	RecordCheck(name string, success bool, responseTime int64)
	Percent(name string) float64
}

// Observer is notified of every attempt, used for metrics.
type Observer interface {
	ObserveCheck(status string, elapsed time.Duration)
	ObserveRetry(status string)
}

// Options tunes probing.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRedirects   int
	ForceIPv4      bool
	UserAgent      string
	CertWarnDays   int
	BodyLimit      int64
	BlockDomains   []config.BlockDomain
	BlockPhrases   []string
}

// OptionsFromSettings derives checker options from settings.
func OptionsFromSettings(s config.Settings) Options {
	return Options{
		Timeout:        s.RequestTimeout,
		MaxRetries:     s.MaxRetries,
		RetryBaseDelay: s.RetryBaseDelay,
		MaxRedirects:   s.MaxRedirects,
		ForceIPv4:      s.ForceIPv4,
		UserAgent:      s.UserAgent,
		CertWarnDays:   s.CertWarnDays,
		BodyLimit:      1 << 20,
		BlockDomains:   s.BlockDomains,
		BlockPhrases:   s.BlockPhrases,
	}
}

// Checker is safe for concurrent use.
type Checker struct {
	opts     Options
	client   *http.Client
	blocks   *BlockDetector
	recorder Recorder
	observer Observer
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Checker) { c.client.Transport = rt }
}

// WithSleep replaces the retry backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Checker) { c.sleep = sleep }
}

// WithClock replaces time.Now for result timestamps and certificate expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithObserver attaches an attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Checker) { c.observer = o }
}

// New builds a Checker. recorder may be nil.
func New(opts Options, recorder Recorder, logger zerolog.Logger, options ...Option) *Checker {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 1 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}

	c := &Checker{
		opts:     opts,
		blocks:   NewBlockDetector(opts.BlockDomains, opts.BlockPhrases),
		recorder: recorder,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
	}
	c.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: newTransport(opts),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
			}
			return nil
		},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func newTransport(opts Options) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialer.DialContext
	if opts.ForceIPv4 {
		t.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		}
	}
	return t
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type outcome struct {
	status      Status
	code        *int
	elapsed     *int64
	err         *string
	blockSource string
	cert        *CertInfo
	retry       bool
}

// Check requests url and returns the terminal result. The uptime record for
// name is updated exactly once per call, whatever the outcome.
func (c *Checker) Check(ctx context.Context, name, url string) Result {
	if name == "" {
		name = url
	}

	var (
		out      outcome
		attempts int
	)
	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		out = c.fetch(ctx, url)
		if !out.retry || attempt >= c.opts.MaxRetries {
			break
		}

		delay := c.opts.RetryBaseDelay * time.Duration(attempt+1)
		c.logger.Info().Str("site", name).Str("status", string(out.status)).
			Int("attempt", attempt+1).Int("max_retries", c.opts.MaxRetries).Dur("backoff", delay).
			Msg("[Checker] Retrying")
		if c.observer != nil {
			c.observer.ObserveRetry(string(out.status))
		}
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	res := Result{
		URL:          url,
		Name:         name,
		Status:       out.status,
		StatusCode:   out.code,
		ResponseTime: out.elapsed,
		Timestamp:    c.now(),
		Error:        out.err,
		BlockSource:  out.blockSource,
		Cert:         out.cert,
		Attempts:     attempts,
	}

	if c.recorder != nil {
		var ms int64
		if out.elapsed != nil {
			ms = *out.elapsed
		}
		c.recorder.RecordCheck(name, res.IsUp(), ms)
		uptime := c.recorder.Percent(name)
		res.Uptime = &uptime
	}

	level := zerolog.InfoLevel
	if !res.IsUp() {
		level = zerolog.WarnLevel
	}
	ev := c.logger.WithLevel(level).Str("site", name).Str("status", string(res.Status)).Int("attempts", attempts)
	if res.StatusCode != nil {
		ev = ev.Int("status_code", *res.StatusCode)
	}
	if res.ResponseTime != nil {
		ev = ev.Int64("response_ms", *res.ResponseTime)
	}
	if res.Error != nil {
		ev = ev.Str("error", *res.Error)
	}
	ev.Msg("[Checker] Check finished")

	return res
}

func (c *Checker) fetch(ctx context.Context, url string) outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		msg := err.Error()
		return outcome{status: StatusError, err: &msg}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,id;q=0.8")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		status, msg := classifyError(err, c.opts.Timeout)
		c.observe(status, time.Since(start))
		return outcome{status: status, err: &msg, retry: retryable(status)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.BodyLimit))
	elapsed := time.Since(start)
	ms := elapsed.Milliseconds()
	code := resp.StatusCode
	if err != nil {
		status, msg := classifyError(err, c.opts.Timeout)
		c.observe(status, elapsed)
		return outcome{status: status, code: &code, elapsed: &ms, err: &msg, retry: retryable(status)}
	}

	if code >= 500 {
		msg := fmt.Sprintf("HTTP %d %s", code, http.StatusText(code))
		c.observe(StatusServerError, elapsed)
		return outcome{
			status:  StatusServerError,
			code:    &code,
			elapsed: &ms,
			err:     &msg,
			retry:   retryableStatusCodes[code],
		}
	}

	final := req.URL
	if resp.Request != nil {
		final = resp.Request.URL
	}
	if src, blocked := c.blocks.Detect(final, code, body); blocked {
		c.observe(StatusBlocked, elapsed)
		return outcome{status: StatusBlocked, code: &code, elapsed: &ms, err: &src, blockSource: src}
	}

	out := outcome{status: classifyStatus(code), code: &code, elapsed: &ms}
	if out.status == StatusUp && resp.TLS != nil {
		out.cert = c.inspectCert(resp, url)
	}
	c.observe(out.status, elapsed)
	return out
}

func (c *Checker) observe(s Status, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCheck(string(s), d)
	}
}

func (c *Checker) inspectCert(resp *http.Response, url string) *CertInfo {
	if len(resp.TLS.PeerCertificates) == 0 {
		return nil
	}
	leaf := resp.TLS.PeerCertificates[0]

	issuer := "Unknown"
	if len(leaf.Issuer.Organization) > 0 {
		issuer = leaf.Issuer.Organization[0]
	}
	days := int(math.Ceil(leaf.NotAfter.Sub(c.now()).Hours() / 24))
	info := &CertInfo{
		Issuer:    issuer,
		ValidFrom: leaf.NotBefore,
		ValidTo:   leaf.NotAfter,
		DaysLeft:  days,
		Expiring:  days < c.opts.CertWarnDays,
	}
	if info.Expiring {
		c.logger.Warn().Str("url", url).Int("days_left", days).Msg("[Checker] SSL certificate expires soon")
	}
	return info
}
