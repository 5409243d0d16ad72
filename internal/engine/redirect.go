package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// redirectPage looks the site up in the configuration on every request, so
// editing a site's URL takes effect without rewriting the page.
const redirectPage = `<?php
try {
    $path_to_config = {{CONFIG}};
    if (!file_exists($path_to_config)) {
        header('Location: ' . {{FALLBACK}});
        exit;
    }

    $config = json_decode(file_get_contents($path_to_config), true);
    if ($config === null) {
        throw new Exception('config.json could not be parsed');
    }

    $websites = isset($config['websites']) ? $config['websites'] : $config;
    if (isset($websites[{{NAME}}])) {
        header('Location: ' . $websites[{{NAME}}]);
        exit;
    }

    throw new Exception('no URL for key ' . {{NAME}});
} catch (Exception $e) {
    header('Location: ' . {{FALLBACK}});
    exit;
}
`

// RedirectResult reports a created (or already present) redirect page.
type RedirectResult struct {
	Name      string
	URL       string
	Artifact  RedirectArtifact
	Created   bool   // false when the page already existed and was left alone
	PublicURL string // where the page is served, empty when unknown
}

// CreateRedirect writes <redirect_root>/<folder>/index.php for a monitored
// site. An existing page is never overwritten.
func (e *Engine) CreateRedirect(ctx context.Context, name string) (*RedirectResult, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	if RedirectFolder(name) == "" {
		return nil, newValidationError(fmt.Sprintf("%q leaves no folder name once the url suffix is removed", name), nil)
	}

	doc, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := doc.Websites.Get(name)
	if !ok {
		return nil, newNotFoundError(name)
	}

	res := &RedirectResult{
		Name:     name,
		URL:      u,
		Artifact: redirectArtifact(e.opts.RedirectRoot, name),
	}
	if base := strings.TrimRight(e.opts.PublicURL, "/"); base != "" {
		res.PublicURL = base + "/" + RedirectFolder(name) + "/"
	}
	if res.Artifact.Exists {
		return res, nil
	}

	if err := os.MkdirAll(res.Artifact.Folder, 0o755); err != nil {
		return nil, NewAppError(ErrCodePersistence, "failed to create redirect folder", err)
	}
	page := e.renderRedirectPage(name, res.Artifact.Folder)
	if err := atomic.WriteFile(res.Artifact.File, strings.NewReader(page)); err != nil {
		return nil, NewAppError(ErrCodePersistence, "failed to write redirect page", err)
	}

	res.Artifact.Exists = true
	res.Created = true
	e.logger.Info().Str("site", name).Str("file", res.Artifact.File).Msg("[Redirect] Page created")
	return res, nil
}

func (e *Engine) renderRedirectPage(name, folder string) string {
	config := phpQuote(e.opts.ConfigFile)
	if abs, err := filepath.Abs(e.opts.ConfigFile); err == nil {
		config = phpQuote(abs)
		if absFolder, err := filepath.Abs(folder); err == nil {
			if rel, err := filepath.Rel(absFolder, abs); err == nil {
				config = "__DIR__ . " + phpQuote("/"+filepath.ToSlash(rel))
			}
		}
	}
	return strings.NewReplacer(
		"{{CONFIG}}", config,
		"{{FALLBACK}}", phpQuote(e.opts.RedirectFallback),
		"{{NAME}}", phpQuote(name),
	).Replace(redirectPage)
}

// phpQuote renders s as a single-quoted PHP string literal.
func phpQuote(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}
