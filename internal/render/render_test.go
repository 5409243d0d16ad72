package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/similarity"
)

func TestResult(t *testing.T) {
	code := 403
	msg := "Blocked by Telkom"
	var buf bytes.Buffer
	Result(&buf, checker.Result{
		Name:        "shop_url",
		URL:         "https://shop.com/",
		Status:      checker.StatusBlocked,
		StatusCode:  &code,
		Error:       &msg,
		BlockSource: "Telkom",
		Attempts:    1,
	})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "🚫 shop_url"))
	assert.Contains(t, out, "blocked (Telkom)")
	assert.Contains(t, out, "Code: 403")
	assert.Contains(t, out, "Time: N/A")
	assert.Contains(t, out, "Error: Blocked by Telkom")
}

func TestRedirect(t *testing.T) {
	var buf bytes.Buffer
	Redirect(&buf, &engine.RedirectResult{
		Name:      "shop_url",
		URL:       "https://shop.com/",
		Artifact:  engine.RedirectArtifact{Folder: "/srv/shop", File: "/srv/shop/index.php", Exists: true},
		Created:   true,
		PublicURL: "https://bukitcuan.fun/shop/",
	})
	out := buf.String()
	assert.Contains(t, out, "Redirect page for shop_url created")
	assert.Contains(t, out, "File: /srv/shop/index.php")
	assert.Contains(t, out, "Link: https://bukitcuan.fun/shop/")

	buf.Reset()
	Redirect(&buf, &engine.RedirectResult{Name: "shop_url", Artifact: engine.RedirectArtifact{File: "/srv/shop/index.php"}})
	assert.Contains(t, buf.String(), "already exists, left unchanged")
	assert.NotContains(t, buf.String(), "Link:")
}

func TestObservation(t *testing.T) {
	var buf bytes.Buffer
	Observation(&buf, &engine.Observation{URL: "https://new.com/", SuggestedName: "new_url"})
	assert.Contains(t, buf.String(), "Suggested name: new_url")

	buf.Reset()
	Observation(&buf, &engine.Observation{
		URL:        "https://mysite-url.com/",
		Candidates: []similarity.Match{{Name: "mysite_url", URL: "https://mysite.com/", Score: 80}},
	})
	assert.Contains(t, buf.String(), "1. mysite_url (mysite.com) score 80")
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 website", Plural(1, "website"))
	assert.Equal(t, "3 websites", Plural(3, "website"))
	assert.Equal(t, "0 websites", Plural(0, "website"))
}
