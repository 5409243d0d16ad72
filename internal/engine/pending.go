package engine

import (
	"context"
	"time"

	"github.com/tentangblockchain/bukitcuan.fun/internal/similarity"
	"github.com/tentangblockchain/bukitcuan.fun/internal/urlnorm"
)

// MaxCandidates is how many similarity matches a pending session offers.
const MaxCandidates = 3

// PendingSession is an unanswered "replace which site?" question.
type PendingSession struct {
	NewURL     string
	Candidates []similarity.Match
	CreatedAt  time.Time
}

// Observation is the outcome of looking at a URL a requester pasted.
type Observation struct {
	URL string
	// ExactMatch names the site that already has this URL.
	ExactMatch string
	// Candidates are the sites the URL most likely replaces; a pending
	// session holding them was stored for the requester.
	Candidates []similarity.Match
	// SuggestedName is offered when nothing matched.
	SuggestedName string
}

// ObserveCandidateURL checks whether rawURL is already configured and
// otherwise ranks the sites it could replace.
func (e *Engine) ObserveCandidateURL(ctx context.Context, key, rawURL string) (*Observation, error) {
	u, err := urlnorm.Validate(rawURL)
	if err != nil {
		return nil, newValidationError("invalid URL", err)
	}
	doc, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	obs := &Observation{URL: u}
	if dup, ok := urlnorm.FindDuplicate(entriesOf(doc), u, ""); ok {
		obs.ExactMatch = dup
		return obs, nil
	}

	sites := doc.Websites.List()
	candidates := make([]similarity.Site, len(sites))
	for i, s := range sites {
		candidates[i] = similarity.Site{Name: s.Name, URL: s.URL}
	}
	matches := similarity.Top(similarity.FindSimilar(u, candidates), MaxCandidates)
	if len(matches) == 0 {
		obs.SuggestedName = urlnorm.SuggestName(u)
		return obs, nil
	}

	obs.Candidates = matches
	e.pendingMu.Lock()
	e.pending[key] = &PendingSession{NewURL: u, Candidates: matches, CreatedAt: e.now()}
	e.pendingMu.Unlock()

	e.logger.Debug().Str("requester", key).Str("url", u).Str("best", matches[0].Name).Int("score", matches[0].Score).Msg("[Engine] Similar sites found")
	return obs, nil
}

// Pending returns the live session for key.
func (e *Engine) Pending(key string) (*PendingSession, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return e.livePending(key)
}

// livePending must be called with pendingMu held. Expired sessions are removed.
func (e *Engine) livePending(key string) (*PendingSession, bool) {
	s, ok := e.pending[key]
	if !ok {
		return nil, false
	}
	if e.now().Sub(s.CreatedAt) > e.opts.PendingTTL {
		delete(e.pending, key)
		return nil, false
	}
	return s, true
}

// ResolvePendingChange applies the requester's choice: the candidate at
// index gets the pending URL. An out-of-range index leaves the session in
// place; every other outcome consumes it.
func (e *Engine) ResolvePendingChange(ctx context.Context, key string, index int) (*EditResult, error) {
	e.pendingMu.Lock()
	s, ok := e.livePending(key)
	if !ok {
		e.pendingMu.Unlock()
		return nil, NewAppError(ErrCodeSessionExpired, "session expired, send the URL again", nil)
	}
	if index < 0 || index >= len(s.Candidates) {
		e.pendingMu.Unlock()
		return nil, NewAppError(ErrCodeInvalidChoice, "invalid choice", nil)
	}
	delete(e.pending, key)
	e.pendingMu.Unlock()

	target := s.Candidates[index].Name
	res, err := e.replaceURL(ctx, target, s.NewURL)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("site", target).Str("url", res.FinalURL).Msg("[Engine] URL replaced from pending session")
	return res, nil
}

// DiscardPending drops the session for key and returns it together with a
// name suggestion so the caller can offer to add the URL as a new site.
func (e *Engine) DiscardPending(key string) (*PendingSession, string, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	s, ok := e.livePending(key)
	if !ok {
		return nil, "", false
	}
	delete(e.pending, key)
	return s, urlnorm.SuggestName(s.NewURL), true
}

// SweepPending removes expired sessions and returns how many were dropped.
func (e *Engine) SweepPending() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	n := 0
	now := e.now()
	for key, s := range e.pending {
		if now.Sub(s.CreatedAt) > e.opts.PendingTTL {
			delete(e.pending, key)
			n++
		}
	}
	if n > 0 {
		e.logger.Debug().Int("expired", n).Msg("[Engine] Swept pending sessions")
	}
	return n
}
