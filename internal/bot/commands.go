package bot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/notify"
	"github.com/tentangblockchain/bukitcuan.fun/internal/render"
)

const helpText = `📖 Website monitor

🔧 Management
!add <name> <url>        add a website
!edit <name> <url>       change its URL, keeping the query
!del <name>              stop monitoring a website
!list [page]             list websites

📊 Monitoring
!check <name>            check one website now
!checkall [page]         check every website
!stats [name]            uptime statistics

📁 Advanced
!createphp <name>        create the PHP redirect page
!export [json|csv|xlsx]  export statistics as a file

📱 Send a URL on its own to replace the URL of the
most similar website, or to get a name for adding it.`

func (b *Bot) add(ctx context.Context, chat int64, args []string) error {
	if len(args) != 2 {
		return usage("!add <name> <url>")
	}
	res, err := b.engine.AddSite(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	render.Added(&buf, res)
	b.sendRendered(ctx, chat, &buf, nil)
	return nil
}

func (b *Bot) edit(ctx context.Context, chat int64, args []string) error {
	if len(args) != 2 {
		return usage("!edit <name> <url>")
	}
	res, err := b.engine.EditSite(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	render.Edit(&buf, res)
	b.sendRendered(ctx, chat, &buf, nil)
	return nil
}

func (b *Bot) del(ctx context.Context, chat int64, args []string) error {
	if len(args) != 1 {
		return usage("!del <name>")
	}
	res, err := b.engine.DeleteSite(ctx, args[0])
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	render.Deleted(&buf, res)
	b.sendRendered(ctx, chat, &buf, nil)
	return nil
}

func (b *Bot) list(ctx context.Context, chat int64, args []string) error {
	list, err := b.engine.ListSites(ctx, pageArg(args))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	render.SiteList(&buf, list)
	b.sendRendered(ctx, chat, &buf, pager(dataListPage, list.Page, list.Pages))
	return nil
}

func (b *Bot) check(ctx context.Context, chat int64, args []string) error {
	if len(args) != 1 {
		return usage("!check <name>")
	}
	res, err := b.engine.CheckOne(ctx, args[0])
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	render.Result(&buf, res)
	b.sendRendered(ctx, chat, &buf, nil)
	return nil
}

// checkAll shows a page of the latest batch, running one when the cached
// results are stale.
func (b *Bot) checkAll(ctx context.Context, chat int64, args []string) error {
	return b.report(ctx, chat, pageArg(args), false)
}

func (b *Bot) report(ctx context.Context, chat int64, page int, force bool) error {
	report, err := b.engine.CheckAll(ctx, force)
	if err != nil {
		return err
	}
	if len(report.Results) == 0 {
		b.reply(ctx, chat, "📭 No websites to check.")
		return nil
	}

	var buf bytes.Buffer
	render.Report(&buf, report, page, b.opts.PageSize)
	_, page, pages := report.Page(page, b.opts.PageSize)
	refresh := notify.Button{Text: "🔄 Refresh", Data: dataRefresh}
	b.sendRendered(ctx, chat, &buf, pager(dataReportPage, page, pages, refresh))
	return nil
}

func (b *Bot) stats(ctx context.Context, chat int64, args []string) error {
	var buf bytes.Buffer
	switch len(args) {
	case 0:
		s, err := b.engine.StatsOverall(ctx)
		if err != nil {
			return err
		}
		render.OverallStats(&buf, s)
	case 1:
		s, err := b.engine.StatsFor(ctx, args[0])
		if err != nil {
			return err
		}
		render.SiteStats(&buf, s, b.opts.Location)
	default:
		return usage("!stats [name]")
	}
	b.sendRendered(ctx, chat, &buf, nil)
	return nil
}

func (b *Bot) export(ctx context.Context, chat int64, args []string) error {
	format := engine.FormatJSON
	switch len(args) {
	case 0:
	case 1:
		format = args[0]
	default:
		return usage("!export [json|csv|xlsx]")
	}
	path, err := b.engine.ExportSnapshot(ctx, format)
	if err != nil {
		return err
	}
	if err := b.client.SendDocument(ctx, chat, path, fmt.Sprintf("📊 Uptime statistics (%s)", format)); err != nil {
		return fmt.Errorf("failed to upload export: %w", err)
	}
	return nil
}

func (b *Bot) createPHP(ctx context.Context, chat int64, args []string) error {
	if len(args) != 1 {
		return usage("!createphp <name>")
	}
	res, err := b.engine.CreateRedirect(ctx, args[0])
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	render.Redirect(&buf, res)
	b.sendRendered(ctx, chat, &buf, nil)
	return nil
}
