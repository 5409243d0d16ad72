package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/monitor"
	"github.com/tentangblockchain/bukitcuan.fun/internal/notify"
	"github.com/tentangblockchain/bukitcuan.fun/internal/store"
	"github.com/tentangblockchain/bukitcuan.fun/internal/uptime"
)

const (
	adminChat    = int64(-1001)
	strangerChat = int64(77)
)

type message struct {
	chat int64
	text string
	opts notify.MessageOptions
}

type fakeClient struct {
	mu       sync.Mutex
	messages []message
	answers  []string
	docs     []string
	polls    [][]notify.Update
	pollErrs []error
}

func (c *fakeClient) GetUpdates(ctx context.Context, _ int64, _ time.Duration) ([]notify.Update, error) {
	c.mu.Lock()
	if len(c.pollErrs) > 0 {
		err := c.pollErrs[0]
		c.pollErrs = c.pollErrs[1:]
		c.mu.Unlock()
		return nil, err
	}
	if len(c.polls) > 0 {
		u := c.polls[0]
		c.polls = c.polls[1:]
		c.mu.Unlock()
		return u, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeClient) SendMessage(_ context.Context, chat int64, text string, opts ...notify.SendOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{chat: chat, text: text, opts: notify.ApplyOptions(opts...)})
	return nil
}

func (c *fakeClient) AnswerCallback(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, text)
	return nil
}

func (c *fakeClient) SendDocument(_ context.Context, _ int64, path, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, path)
	return nil
}

func (c *fakeClient) last(t *testing.T) message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.messages)
	return c.messages[len(c.messages)-1]
}

type upSiteChecker struct {
	tracker *uptime.Tracker
}

func (p upSiteChecker) Check(_ context.Context, name, url string) checker.Result {
	p.tracker.RecordCheck(name, true, 10)
	code := 200
	return checker.Result{Name: name, URL: url, Status: checker.StatusUp, StatusCode: &code, Timestamp: time.Now()}
}

type fixture struct {
	bot    *Bot
	client *fakeClient
	engine *engine.Engine
	dir    string
}

func newFixture(t *testing.T, rateLimit int) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := store.NewConfigStore(filepath.Join(dir, "private", "config.json"), zerolog.Nop())
	tracker := uptime.New(time.UTC)
	siteChecker := upSiteChecker{tracker: tracker}
	mon := monitor.New(monitor.Options{BatchSize: 5, CacheTTL: time.Minute}, cfg, siteChecker, zerolog.Nop())
	eng := engine.New(engine.Options{
		ConfigFile:   cfg.Path(),
		RedirectRoot: filepath.Join(dir, "www"),
		ExportDir:    filepath.Join(dir, "logs"),
		PageSize:     2,
		RateLimit:    rateLimit,
		RateWindow:   time.Minute,
	}, cfg, siteChecker, mon, tracker, zerolog.Nop())

	client := &fakeClient{}
	b := New(client, eng, Options{Allowed: []int64{adminChat}, PageSize: 2}, zerolog.Nop())
	return &fixture{bot: b, client: client, engine: eng, dir: dir}
}

func (f *fixture) say(text string) {
	f.bot.handle(context.Background(), notify.Update{Message: &notify.Message{ChatID: adminChat, Text: text}})
}

func (f *fixture) press(data string) {
	f.bot.handle(context.Background(), notify.Update{CallbackQuery: &notify.CallbackQuery{
		ID:      "cb",
		Message: &notify.Message{ChatID: adminChat},
		Data:    data,
	}})
}

func TestUnauthorizedChatIsRejected(t *testing.T) {
	f := newFixture(t, 30)
	f.bot.handle(context.Background(), notify.Update{Message: &notify.Message{ChatID: strangerChat, Text: "!list"}})

	m := f.client.last(t)
	assert.Equal(t, strangerChat, m.chat)
	assert.Contains(t, m.text, "not allowed")

	list, err := f.engine.ListSites(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestSiteCommands(t *testing.T) {
	f := newFixture(t, 30)

	f.say("!add binance_url binance.com?ref=abc")
	m := f.client.last(t)
	assert.True(t, m.opts.Preformatted)
	assert.Contains(t, m.text, "https://binance.com/?ref=abc")
	assert.Contains(t, m.text, "Now monitoring 1 website.")

	f.say("!add binance_url other.com")
	assert.True(t, strings.HasPrefix(f.client.last(t).text, "❌ "))

	f.say("!edit binance_url binance2.com")
	assert.Contains(t, f.client.last(t).text, "https://binance2.com/?ref=abc")

	f.say("!add")
	assert.Equal(t, "❌ usage: !add <name> <url>", f.client.last(t).text)

	f.say("!DEL binance_url")
	assert.Contains(t, f.client.last(t).text, "0 websites left.")
}

func TestListPagesWithKeyboard(t *testing.T) {
	f := newFixture(t, 30)
	for _, s := range []string{"a a.com", "b b.com", "c c.com"} {
		f.say("!add " + s)
	}

	f.say("!list")
	m := f.client.last(t)
	assert.Contains(t, m.text, "Page 1/2")
	require.Len(t, m.opts.Keyboard, 1)
	assert.Equal(t, []notify.Button{{Text: "Next ➡️", Data: "list_page_2"}}, m.opts.Keyboard[0])

	f.press("list_page_2")
	m = f.client.last(t)
	assert.Contains(t, m.text, "Page 2/2")
	assert.Equal(t, "list_page_1", m.opts.Keyboard[0][0].Data)
}

func TestCheckAllReportPages(t *testing.T) {
	f := newFixture(t, 30)
	for _, s := range []string{"a a.com", "b b.com", "c c.com"} {
		f.say("!add " + s)
	}

	f.say("!checkall")
	m := f.client.last(t)
	assert.Contains(t, m.text, "3/3 up")
	require.Len(t, m.opts.Keyboard, 2)
	assert.Equal(t, "checkall_page_2", m.opts.Keyboard[0][0].Data)
	assert.Equal(t, "checkall_refresh", m.opts.Keyboard[1][0].Data)

	f.press("checkall_page_2")
	assert.Contains(t, f.client.last(t).text, "Page 2/2")
}

func TestPastedURLOffersReplacement(t *testing.T) {
	f := newFixture(t, 30)
	f.say("!add mysite_url https://mysite.com/?ref=9")

	f.say("https://mysite-url.com")
	m := f.client.last(t)
	assert.Contains(t, m.text, "looks like a replacement for")
	require.Len(t, m.opts.Keyboard, 3)
	assert.Equal(t, "replace_url_0", m.opts.Keyboard[0][0].Data)
	assert.Equal(t, "add_new_url", m.opts.Keyboard[1][0].Data)
	assert.Equal(t, "cancel_url", m.opts.Keyboard[2][0].Data)

	f.press("replace_url_0")
	assert.Contains(t, f.client.last(t).text, "https://mysite-url.com/?ref=9")
	assert.Equal(t, "✅ URL replaced", f.client.answers[len(f.client.answers)-1])

	f.press("replace_url_0")
	assert.Equal(t, sessionExpired, f.client.answers[len(f.client.answers)-1])
}

func TestNewPastedURLReplacesOpenQuestion(t *testing.T) {
	f := newFixture(t, 30)
	f.say("!add mysite_url https://mysite.com/")

	f.say("https://mysite-url.com")
	f.say("https://mysite2.com")
	assert.Contains(t, f.client.last(t).text, "open question about https://mysite-url.com/ was dropped")

	f.press("add_new_url")
	m := f.client.last(t)
	assert.Contains(t, m.text, "!add ")
	assert.Contains(t, m.text, "https://mysite2.com/")

	f.press("cancel_url")
	assert.Equal(t, "❌ Cancelled.", f.client.last(t).text)
}

func TestPlainTextIsIgnored(t *testing.T) {
	f := newFixture(t, 30)
	f.say("good morning")
	f.say("ok")
	assert.Empty(t, f.client.messages)

	f.say("!frobnicate")
	assert.Equal(t, unknownCommand, f.client.last(t).text)

	f.say("/start@ceklink_bot")
	assert.Contains(t, f.client.last(t).text, "!createphp <name>")
}

func TestRateLimitedReply(t *testing.T) {
	f := newFixture(t, 2)
	f.say("!list")
	f.say("!list")
	f.say("!list")

	m := f.client.last(t)
	assert.True(t, strings.HasPrefix(m.text, "⏱️ rate limit exceeded"), m.text)
}

func TestExportSendsDocument(t *testing.T) {
	f := newFixture(t, 30)
	f.say("!add a a.com")
	f.say("!checkall")

	f.say("!export csv")
	require.Len(t, f.client.docs, 1)
	data, err := os.ReadFile(f.client.docs[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "a,https://a.com/,100,1,1,0,10,")

	f.say("!export pdf")
	assert.True(t, strings.HasPrefix(f.client.last(t).text, "❌ "))
}

func TestCreatePHPCommand(t *testing.T) {
	f := newFixture(t, 30)
	f.say("!add shop_url shop.com")

	f.say("!createphp shop_url")
	assert.Contains(t, f.client.last(t).text, "Redirect page for shop_url created")
	_, err := os.Stat(filepath.Join(f.dir, "www", "shop", "index.php"))
	assert.NoError(t, err)

	f.say("!createphp ghost")
	assert.Contains(t, f.client.last(t).text, "not found")
}

func TestRunRetriesAfterPollFailure(t *testing.T) {
	f := newFixture(t, 30)
	f.client.pollErrs = []error{errors.New("bad gateway")}
	f.client.polls = [][]notify.Update{{
		{ID: 5, Message: &notify.Message{ChatID: adminChat, Text: "!list"}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	assert.Eventually(t, func() bool {
		f.client.mu.Lock()
		defer f.client.mu.Unlock()
		return len(f.client.messages) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not stop")
	}
	assert.Contains(t, f.client.last(t).text, "No websites are being monitored.")
}
