package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRedirect(t *testing.T) {
	f := newFixture(t)
	added := f.add(t, "maniaslot_url", "maniaslot.com?ref=7")
	require.False(t, added.Redirect.Exists)

	res, err := f.engine.CreateRedirect(context.Background(), " maniaslot_url ")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "https://maniaslot.com/?ref=7", res.URL)
	assert.Equal(t, filepath.Join(f.redirect, "maniaslot", "index.php"), res.Artifact.File)
	assert.Equal(t, "https://bukitcuan.fun/maniaslot/", res.PublicURL)

	page, err := os.ReadFile(res.Artifact.File)
	require.NoError(t, err)
	body := string(page)
	assert.Contains(t, body, `$path_to_config = __DIR__ . '/../../private/config.json';`)
	assert.Contains(t, body, `isset($websites['maniaslot_url'])`)
	assert.Contains(t, body, `header('Location: ' . 'https://t.me/helpdesk');`)

	sibling := f.add(t, "maniaslot-url", "other.com")
	assert.True(t, sibling.Redirect.Exists)

	_, err = f.engine.AddSite(context.Background(), "maniaslot_url", "third.com")
	appErr := requireCode(t, err, ErrCodeAlreadyExists)
	assert.True(t, appErr.RedirectExists)
}

func TestCreateRedirectKeepsExistingPage(t *testing.T) {
	f := newFixture(t)
	f.add(t, "shop_url", "shop.com")
	folder := filepath.Join(f.redirect, "shop")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "index.php"), []byte("custom"), 0o644))

	res, err := f.engine.CreateRedirect(context.Background(), "shop_url")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Artifact.Exists)

	page, err := os.ReadFile(filepath.Join(folder, "index.php"))
	require.NoError(t, err)
	assert.Equal(t, "custom", string(page))
}

func TestCreateRedirectRejects(t *testing.T) {
	f := newFixture(t)
	f.add(t, "url", "plain.com")

	_, err := f.engine.CreateRedirect(context.Background(), "missing_url")
	requireCode(t, err, ErrCodeNotFound)

	_, err = f.engine.CreateRedirect(context.Background(), "../etc")
	requireCode(t, err, ErrCodeValidation)

	_, err = f.engine.CreateRedirect(context.Background(), "url")
	requireCode(t, err, ErrCodeValidation)

	_, statErr := os.Stat(f.redirect)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPHPQuote(t *testing.T) {
	assert.Equal(t, `'it\'s'`, phpQuote("it's"))
	assert.Equal(t, `'C:\\data'`, phpQuote(`C:\data`))
}
