package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddsSchemeAndNormalizes(t *testing.T) {
	p, err := Parse("  Example.COM:443/promo?ref=abc#top ")
	require.NoError(t, err)

	assert.Equal(t, "https", p.Scheme)
	assert.Equal(t, "example.com", p.Hostname)
	assert.Equal(t, "", p.Port)
	assert.Equal(t, "/promo", p.Path)
	assert.Equal(t, "?ref=abc", p.Query)
	assert.Equal(t, "#top", p.Fragment)
	assert.Equal(t, "https://example.com/promo", p.Base)
	assert.Equal(t, "https://example.com/promo?ref=abc#top", p.Full)

	for raw, want := range map[string]string{
		"example.com/go?to=https://target.com":  "https://example.com/go?to=https://target.com",
		"landing.site/?ref=http://aff.example":  "https://landing.site/?ref=http://aff.example",
		"HTTP://Shop.com/?next=https://pay.com": "http://shop.com/?next=https://pay.com",
	} {
		got, err := Validate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseKeepsUserinfo(t *testing.T) {
	p, err := Parse("https://user:pw@Example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://user:pw@example.com/x", p.Full)
	assert.Equal(t, "https://example.com", p.Origin)
	assert.Equal(t, "example.com", p.Hostname)
}

func TestParseKeepsNonDefaultPort(t *testing.T) {
	p, err := Parse("http://example.com:8080")
	require.NoError(t, err)
	assert.Equal(t, "8080", p.Port)
	assert.Equal(t, "http://example.com:8080/", p.Full)
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://example.com", "https://", "http:///path", "https://exa mple.com"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}
}

func TestValidate(t *testing.T) {
	got, err := Validate("binance.com")
	require.NoError(t, err)
	assert.Equal(t, "https://binance.com/", got)

	_, err = Validate("mailto://someone")
	assert.Error(t, err)
}

func TestSameBase(t *testing.T) {
	assert.True(t, SameBase("https://a.com/x?y=1", "a.com/x?y=2"))
	assert.False(t, SameBase("https://a.com/x", "https://a.com/z"))
	assert.False(t, SameBase("https://a.com/x", "ftp://a.com/x"))
}

func TestMergePreservingQuery(t *testing.T) {
	cases := []struct {
		name     string
		old, new string
		want     string
	}{
		{"new has query", "https://old.com/?ref=1", "https://new.com/?ref=2", "https://new.com/?ref=2"},
		{"old query carried", "https://old.com/?ref=1", "new.com", "https://new.com/?ref=1"},
		{"no queries", "https://old.com/", "new.com/landing", "https://new.com/landing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MergePreservingQuery(tc.old, tc.new)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMergeIsIdempotentWhenNewCarriesQuery(t *testing.T) {
	newURL := "https://new.com/path?aff=9"
	got, err := MergePreservingQuery("https://old.com/?ref=1", newURL)
	require.NoError(t, err)
	assert.Equal(t, newURL, got)

	again, err := MergePreservingQuery(got, newURL)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestMergeFailsOnUnparsableInput(t *testing.T) {
	_, err := MergePreservingQuery("ftp://legacy", "new.com")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = MergePreservingQuery("https://old.com", "ftp://x")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFindDuplicateHonorsExclusion(t *testing.T) {
	entries := []Entry{
		{Name: "alpha", URL: "https://alpha.com/?ref=1"},
		{Name: "broken", URL: "ftp://nope"},
		{Name: "beta", URL: "beta.com"},
	}

	name, ok := FindDuplicate(entries, "alpha.com/?ref=1", "")
	require.True(t, ok)
	assert.Equal(t, "alpha", name)

	_, ok = FindDuplicate(entries, "https://alpha.com/?ref=1", "alpha")
	assert.False(t, ok, "editing a site to its own url is not a conflict")

	name, ok = FindDuplicate(entries, "https://BETA.com", "alpha")
	require.True(t, ok)
	assert.Equal(t, "beta", name)

	_, ok = FindDuplicate(entries, "not a url at all://", "")
	assert.False(t, ok)
}

func TestSuggestNameAndTruncate(t *testing.T) {
	assert.Equal(t, "shop_my_site_com_url", SuggestName("https://shop.my-site.com/x"))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
}
