// Package bot answers chat commands from the monitor's Telegram bot. It
// long-polls for updates and runs every command through the engine, keyed
// by chat so rate limits and pending URL questions are per chat.
package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/notify"
	"github.com/tentangblockchain/bukitcuan.fun/internal/render"
	"github.com/tentangblockchain/bukitcuan.fun/internal/urlnorm"
)

// Client is the Bot API surface the bot needs. notify.Telegram implements it.
type Client interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]notify.Update, error)
	SendMessage(ctx context.Context, chat int64, text string, opts ...notify.SendOption) error
	AnswerCallback(ctx context.Context, id, text string) error
	SendDocument(ctx context.Context, chat int64, path, caption string) error
}

// Options tunes the bot.
type Options struct {
	Allowed     []int64 // chats allowed to use the bot
	PageSize    int
	Location    *time.Location
	PollTimeout time.Duration
}

type handler func(ctx context.Context, chat int64, args []string) error

// Bot dispatches updates to command handlers.
type Bot struct {
	client   Client
	engine   *engine.Engine
	opts     Options
	allowed  map[int64]bool
	commands map[string]handler
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// New returns a bot for the given client and engine.
func New(client Client, eng *engine.Engine, opts Options, logger zerolog.Logger) *Bot {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	b := &Bot{
		client:  client,
		engine:  eng,
		opts:    opts,
		allowed: make(map[int64]bool, len(opts.Allowed)),
		logger:  logger,
	}
	for _, id := range opts.Allowed {
		b.allowed[id] = true
	}
	b.commands = map[string]handler{
		"!add":       b.add,
		"!edit":      b.edit,
		"!del":       b.del,
		"!delete":    b.del,
		"!list":      b.list,
		"!check":     b.check,
		"!checkall":  b.checkAll,
		"!stats":     b.stats,
		"!export":    b.export,
		"!createphp": b.createPHP,
	}
	return b
}

// Run polls for updates until ctx is cancelled, then waits for the
// handlers still running.
func (b *Bot) Run(ctx context.Context) error {
	defer b.wg.Wait()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	b.logger.Info().Int("chats", len(b.allowed)).Msg("[Bot] Polling for commands")
	var offset int64
	for {
		updates, err := b.client.GetUpdates(ctx, offset, b.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.NextBackOff()
			b.logger.Warn().Err(err).Dur("retry_in", wait).Msg("[Bot] Failed to fetch updates")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			b.wg.Add(1)
			go func(u notify.Update) {
				defer b.wg.Done()
				b.handle(ctx, u)
			}(u)
		}
	}
}

func (b *Bot) handle(ctx context.Context, u notify.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text != "":
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) authorized(chat int64) bool {
	if b.allowed[chat] {
		return true
	}
	b.logger.Warn().Int64("chat", chat).Msg("[Bot] Unauthorized access attempt")
	return false
}

// key identifies a chat to the engine's per-requester state.
func key(chat int64) string {
	return strconv.FormatInt(chat, 10)
}

func (b *Bot) handleMessage(ctx context.Context, m *notify.Message) {
	if !b.authorized(m.ChatID) {
		b.reply(ctx, m.ChatID, "❌ You are not allowed to use this bot.")
		return
	}

	text := strings.TrimSpace(m.Text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 && strings.HasPrefix(name, "/") {
		name = name[:at]
	}

	switch {
	case name == "/start" || name == "/help" || name == "!help":
		b.reply(ctx, m.ChatID, helpText, notify.Preformatted())
	case strings.HasPrefix(name, "!"):
		b.command(ctx, m.ChatID, name, fields[1:])
	case strings.HasPrefix(name, "/"):
		b.reply(ctx, m.ChatID, unknownCommand)
	default:
		b.observe(ctx, m.ChatID, text)
	}
}

func (b *Bot) command(ctx context.Context, chat int64, name string, args []string) {
	h, ok := b.commands[name]
	if !ok {
		b.reply(ctx, chat, unknownCommand)
		return
	}
	if err := b.engine.AllowCommand(key(chat)); err != nil {
		b.replyError(ctx, chat, err)
		return
	}

	started := time.Now()
	err := h(ctx, chat, args)
	b.logger.Debug().Int64("chat", chat).Str("command", name).Dur("elapsed", time.Since(started)).Err(err).Msg("[Bot] Command handled")
	if err != nil {
		b.replyError(ctx, chat, err)
	}
}

func (b *Bot) reply(ctx context.Context, chat int64, text string, opts ...notify.SendOption) {
	if err := b.client.SendMessage(ctx, chat, text, opts...); err != nil {
		b.logger.Error().Err(err).Int64("chat", chat).Msg("[Bot] Failed to reply")
	}
}

// replyError reports err to the chat. Engine errors show their message,
// anything else is logged and reported generically.
func (b *Bot) replyError(ctx context.Context, chat int64, err error) {
	appErr, ok := engine.AsAppError(err)
	if !ok {
		b.logger.Error().Err(err).Int64("chat", chat).Msg("[Bot] Command failed")
		b.reply(ctx, chat, "❌ Something went wrong: "+err.Error())
		return
	}

	switch {
	case appErr.Code == engine.ErrCodeRateLimited:
		b.reply(ctx, chat, "⏱️ "+appErr.Message)
	case appErr.Code == engine.ErrCodeAlreadyExists && appErr.RedirectExists:
		b.reply(ctx, chat, fmt.Sprintf("❌ %s\nℹ️ A redirect folder for %s already exists.", appErr.Message, appErr.Related))
	default:
		b.reply(ctx, chat, "❌ "+appErr.Message)
	}
}

func usage(text string) error {
	return engine.NewAppError(engine.ErrCodeValidation, "usage: "+text, nil)
}

// pageArg parses an optional page argument, defaulting to 1.
func pageArg(args []string) int {
	if len(args) == 0 {
		return 1
	}
	page, err := strconv.Atoi(args[0])
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// pager builds previous/next buttons for a paged reply.
func pager(prefix string, page, pages int, extra ...notify.Button) [][]notify.Button {
	var row []notify.Button
	if page > 1 {
		row = append(row, notify.Button{Text: "⬅️ Prev", Data: prefix + strconv.Itoa(page-1)})
	}
	if page < pages {
		row = append(row, notify.Button{Text: "Next ➡️", Data: prefix + strconv.Itoa(page+1)})
	}
	var rows [][]notify.Button
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if len(extra) > 0 {
		rows = append(rows, extra)
	}
	return rows
}

func (b *Bot) sendRendered(ctx context.Context, chat int64, buf *bytes.Buffer, keyboard [][]notify.Button) {
	opts := []notify.SendOption{notify.Preformatted()}
	if len(keyboard) > 0 {
		opts = append(opts, notify.WithKeyboard(keyboard))
	}
	b.reply(ctx, chat, strings.TrimRight(buf.String(), "\n"), opts...)
}

// looksLikeURL accepts a single token whose host has a dot, so chat
// messages such as "ok" are not taken for hostnames.
func looksLikeURL(text string) bool {
	if strings.ContainsAny(text, " \t\n") {
		return false
	}
	p, err := urlnorm.Parse(text)
	return err == nil && strings.Contains(p.Hostname, ".")
}

// observe treats plain text as a URL the chat wants monitored. Anything
// that is not a URL is ignored.
func (b *Bot) observe(ctx context.Context, chat int64, text string) {
	if !looksLikeURL(text) {
		return
	}
	if err := b.engine.AllowCommand(key(chat)); err != nil {
		b.replyError(ctx, chat, err)
		return
	}

	previous, hadPending := b.engine.Pending(key(chat))
	obs, err := b.engine.ObserveCandidateURL(ctx, key(chat), text)
	if err != nil {
		b.replyError(ctx, chat, err)
		return
	}

	var buf bytes.Buffer
	if hadPending && len(obs.Candidates) > 0 && previous.NewURL != obs.URL {
		fmt.Fprintf(&buf, "ℹ️ The open question about %s was dropped.\n", render.DisplayURL(previous.NewURL))
	}
	render.Observation(&buf, obs)
	if len(obs.Candidates) == 0 {
		if obs.SuggestedName != "" {
			fmt.Fprintf(&buf, "Add it with:\n!add %s %s\n", obs.SuggestedName, obs.URL)
		}
		b.sendRendered(ctx, chat, &buf, nil)
		return
	}

	keyboard := make([][]notify.Button, 0, len(obs.Candidates)+2)
	for i, c := range obs.Candidates {
		keyboard = append(keyboard, []notify.Button{{Text: "✅ Replace " + c.Name, Data: "replace_url_" + strconv.Itoa(i)}})
	}
	keyboard = append(keyboard,
		[]notify.Button{{Text: "➕ Add as new", Data: dataAddNew}},
		[]notify.Button{{Text: "❌ Cancel", Data: dataCancel}},
	)
	b.sendRendered(ctx, chat, &buf, keyboard)
}

const (
	dataAddNew     = "add_new_url"
	dataCancel     = "cancel_url"
	dataReplace    = "replace_url_"
	dataListPage   = "list_page_"
	dataReportPage = "checkall_page_"
	dataRefresh    = "checkall_refresh"
	unknownCommand = "❌ Unknown command.\nSend !help for the list of commands."
	sessionExpired = "⚠️ Session expired, send the URL again"
)

func (b *Bot) handleCallback(ctx context.Context, q *notify.CallbackQuery) {
	chat := q.FromID
	if q.Message != nil {
		chat = q.Message.ChatID
	}
	if !b.authorized(chat) {
		b.answer(ctx, q.ID, "❌ Not allowed")
		return
	}

	data := q.Data
	switch {
	case strings.HasPrefix(data, dataReplace):
		index, err := strconv.Atoi(strings.TrimPrefix(data, dataReplace))
		if err != nil {
			index = -1
		}
		res, err := b.engine.ResolvePendingChange(ctx, key(chat), index)
		if err != nil {
			if engine.IsCode(err, engine.ErrCodeSessionExpired) {
				b.answer(ctx, q.ID, sessionExpired)
				return
			}
			b.answer(ctx, q.ID, "❌ Failed")
			b.replyError(ctx, chat, err)
			return
		}
		b.answer(ctx, q.ID, "✅ URL replaced")
		var buf bytes.Buffer
		render.Edit(&buf, res)
		b.sendRendered(ctx, chat, &buf, nil)

	case data == dataAddNew:
		s, name, ok := b.engine.DiscardPending(key(chat))
		if !ok {
			b.answer(ctx, q.ID, sessionExpired)
			return
		}
		b.answer(ctx, q.ID, "💡 Use !add")
		b.reply(ctx, chat, fmt.Sprintf("➕ Add it as a new website with:\n!add %s %s", name, s.NewURL), notify.Preformatted())

	case data == dataCancel:
		b.engine.DiscardPending(key(chat))
		b.answer(ctx, q.ID, "❌ Cancelled")
		b.reply(ctx, chat, "❌ Cancelled.")

	case strings.HasPrefix(data, dataListPage):
		b.answer(ctx, q.ID, "")
		b.runCallback(ctx, chat, b.list, strings.TrimPrefix(data, dataListPage))

	case strings.HasPrefix(data, dataReportPage):
		b.answer(ctx, q.ID, "")
		b.runCallback(ctx, chat, b.checkAll, strings.TrimPrefix(data, dataReportPage))

	case data == dataRefresh:
		b.answer(ctx, q.ID, "🔄 Starting a fresh check...")
		if err := b.report(ctx, chat, 1, true); err != nil {
			b.replyError(ctx, chat, err)
		}

	default:
		b.answer(ctx, q.ID, "")
	}
}

func (b *Bot) runCallback(ctx context.Context, chat int64, h handler, arg string) {
	if err := h(ctx, chat, []string{arg}); err != nil {
		b.replyError(ctx, chat, err)
	}
}

func (b *Bot) answer(ctx context.Context, id, text string) {
	if err := b.client.AnswerCallback(ctx, id, text); err != nil {
		b.logger.Warn().Err(err).Msg("[Bot] Failed to answer callback")
	}
}
