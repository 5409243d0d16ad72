package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCandidateURLExactMatch(t *testing.T) {
	f := newFixture(t)
	f.add(t, "mysite_url", "https://mysite.com/?r=1")

	obs, err := f.engine.ObserveCandidateURL(context.Background(), "chat1", "MYSITE.com?r=1")
	require.NoError(t, err)
	assert.Equal(t, "mysite_url", obs.ExactMatch)
	assert.Empty(t, obs.Candidates)

	_, ok := f.engine.Pending("chat1")
	assert.False(t, ok)
}

func TestObserveCandidateURLResolve(t *testing.T) {
	f := newFixture(t)
	f.add(t, "mysite_url", "https://mysite.com/?ref=42")
	f.add(t, "other_url", "https://zzz.org/")

	obs, err := f.engine.ObserveCandidateURL(context.Background(), "chat1", "https://mysite-url.com")
	require.NoError(t, err)
	require.NotEmpty(t, obs.Candidates)
	assert.Equal(t, "mysite_url", obs.Candidates[0].Name)
	assert.LessOrEqual(t, len(obs.Candidates), MaxCandidates)

	s, ok := f.engine.Pending("chat1")
	require.True(t, ok)
	assert.Equal(t, "https://mysite-url.com/", s.NewURL)

	res, err := f.engine.ResolvePendingChange(context.Background(), "chat1", 0)
	require.NoError(t, err)
	assert.Equal(t, "mysite_url", res.Name)
	assert.Equal(t, "https://mysite-url.com/?ref=42", res.FinalURL)
	assert.True(t, res.QueryPreserved)

	_, ok = f.engine.Pending("chat1")
	assert.False(t, ok, "session is consumed")

	_, err = f.engine.ResolvePendingChange(context.Background(), "chat1", 0)
	requireCode(t, err, ErrCodeSessionExpired)
}

func TestObserveCandidateURLSuggestsName(t *testing.T) {
	f := newFixture(t)

	obs, err := f.engine.ObserveCandidateURL(context.Background(), "chat1", "brand-new.com")
	require.NoError(t, err)
	assert.Empty(t, obs.Candidates)
	assert.Equal(t, "brand_new_com_url", obs.SuggestedName)

	_, err = f.engine.ObserveCandidateURL(context.Background(), "chat1", "ftp://x.com")
	requireCode(t, err, ErrCodeValidation)
}

func TestPendingSessionExpires(t *testing.T) {
	f := newFixture(t)
	f.add(t, "mysite_url", "https://mysite.com/")

	_, err := f.engine.ObserveCandidateURL(context.Background(), "chat1", "https://mysite2.com")
	require.NoError(t, err)

	f.clock.advance(6 * time.Minute)
	_, err = f.engine.ResolvePendingChange(context.Background(), "chat1", 0)
	requireCode(t, err, ErrCodeSessionExpired)

	doc, err := f.store.Load(context.Background())
	require.NoError(t, err)
	u, _ := doc.Websites.Get("mysite_url")
	assert.Equal(t, "https://mysite.com/", u)
}

func TestResolveInvalidChoiceKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.add(t, "mysite_url", "https://mysite.com/")

	_, err := f.engine.ObserveCandidateURL(context.Background(), "chat1", "https://mysite2.com")
	require.NoError(t, err)

	_, err = f.engine.ResolvePendingChange(context.Background(), "chat1", 7)
	requireCode(t, err, ErrCodeInvalidChoice)
	_, err = f.engine.ResolvePendingChange(context.Background(), "chat1", -1)
	requireCode(t, err, ErrCodeInvalidChoice)

	_, ok := f.engine.Pending("chat1")
	assert.True(t, ok)
}

func TestResolveConflictConsumesSession(t *testing.T) {
	f := newFixture(t)
	f.add(t, "shop_url", "https://shop.com/?ref=7")
	f.add(t, "shop2_url", "https://shopnew.com/?ref=7")

	obs, err := f.engine.ObserveCandidateURL(context.Background(), "chat1", "https://shopnew.com/")
	require.NoError(t, err)
	require.Empty(t, obs.ExactMatch)

	choice := -1
	for i, c := range obs.Candidates {
		if c.Name == "shop_url" {
			choice = i
		}
	}
	require.GreaterOrEqual(t, choice, 0)

	_, err = f.engine.ResolvePendingChange(context.Background(), "chat1", choice)
	appErr := requireCode(t, err, ErrCodeConflict)
	assert.Equal(t, "shop2_url", appErr.Related)

	_, ok := f.engine.Pending("chat1")
	assert.False(t, ok)
}

func TestDiscardPending(t *testing.T) {
	f := newFixture(t)
	f.add(t, "mysite_url", "https://mysite.com/")

	_, _, ok := f.engine.DiscardPending("chat1")
	assert.False(t, ok)

	_, err := f.engine.ObserveCandidateURL(context.Background(), "chat1", "https://mysite-new.com")
	require.NoError(t, err)

	s, suggested, ok := f.engine.DiscardPending("chat1")
	require.True(t, ok)
	assert.Equal(t, "https://mysite-new.com/", s.NewURL)
	assert.Equal(t, "mysite_new_com_url", suggested)

	_, ok = f.engine.Pending("chat1")
	assert.False(t, ok)
}

func TestSweepPending(t *testing.T) {
	f := newFixture(t)
	f.add(t, "mysite_url", "https://mysite.com/")

	_, err := f.engine.ObserveCandidateURL(context.Background(), "old", "https://mysite2.com")
	require.NoError(t, err)
	f.clock.advance(4 * time.Minute)
	_, err = f.engine.ObserveCandidateURL(context.Background(), "fresh", "https://mysite3.com")
	require.NoError(t, err)
	f.clock.advance(2 * time.Minute)

	assert.Equal(t, 1, f.engine.SweepPending())
	_, ok := f.engine.Pending("fresh")
	assert.True(t, ok)
}

func TestAllowCommand(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RateLimit = 3 })

	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.AllowCommand("chat1"))
	}
	err := f.engine.AllowCommand("chat1")
	appErr := requireCode(t, err, ErrCodeRateLimited)
	assert.Equal(t, 20*time.Second, appErr.RetryAfter)
	assert.Contains(t, appErr.Message, "wait 20s")

	require.NoError(t, f.engine.AllowCommand("chat2"), "requesters are limited independently")

	f.clock.advance(20 * time.Second)
	require.NoError(t, f.engine.AllowCommand("chat1"))
	requireCode(t, f.engine.AllowCommand("chat1"), ErrCodeRateLimited)

	f.clock.advance(6 * time.Minute)
	assert.Equal(t, 2, f.engine.SweepLimiters())
}
