package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/rs/zerolog"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

const (
	// maxMessageLen is the Bot API limit for one sendMessage text.
	maxMessageLen = 4096

	requestTimeout = 15 * time.Second
)

// Telegram talks to the Bot API: it sends alerts and replies and long-polls
// for updates.
type Telegram struct {
	token   string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewTelegram returns a client for token. baseURL may be empty.
func NewTelegram(token, baseURL string, logger zerolog.Logger) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	return &Telegram{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger,
	}
}

type apiResponse struct {
	OK          bool
	Description string
	Result      []byte
}

func (r *apiResponse) UnmarshalEasyJSON(in *jlexer.Lexer) {
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		switch key {
		case "ok":
			r.OK = in.Bool()
		case "description":
			r.Description = in.String()
		case "result":
			r.Result = append([]byte(nil), in.Raw()...)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// MessageOptions is the combined effect of a list of SendOption.
type MessageOptions struct {
	Preformatted bool
	Keyboard     [][]Button
}

// SendOption changes how SendMessage formats a message.
type SendOption func(*MessageOptions)

// Preformatted sends the text in a monospace block, keeping table alignment.
func Preformatted() SendOption {
	return func(o *MessageOptions) { o.Preformatted = true }
}

// WithKeyboard attaches an inline keyboard to the last chunk of the message.
func WithKeyboard(rows [][]Button) SendOption {
	return func(o *MessageOptions) { o.Keyboard = rows }
}

// ApplyOptions folds opts into one MessageOptions.
func ApplyOptions(opts ...SendOption) MessageOptions {
	var o MessageOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Notify sends text, splitting it into chunks the API accepts.
func (t *Telegram) Notify(ctx context.Context, recipient int64, text string) error {
	return t.SendMessage(ctx, recipient, text)
}

// SendMessage sends text to chat, split into chunks the API accepts.
func (t *Telegram) SendMessage(ctx context.Context, chat int64, text string, opts ...SendOption) error {
	o := ApplyOptions(opts...)

	chunks := splitMessage(text, maxMessageLen)
	if o.Preformatted {
		chunks = splitEscaped(text, maxMessageLen-len("<pre></pre>"))
	}
	for i, chunk := range chunks {
		form := url.Values{}
		form.Set("chat_id", strconv.FormatInt(chat, 10))
		form.Set("disable_web_page_preview", "true")
		if o.Preformatted {
			form.Set("parse_mode", "HTML")
			chunk = "<pre>" + html.EscapeString(chunk) + "</pre>"
		}
		form.Set("text", chunk)
		if len(o.Keyboard) > 0 && i == len(chunks)-1 {
			form.Set("reply_markup", encodeKeyboard(o.Keyboard))
		}
		if _, err := t.callForm(ctx, "sendMessage", form, requestTimeout); err != nil {
			return err
		}
	}
	t.logger.Debug().Int64("recipient", chat).Int("chars", len(text)).Int("chunks", len(chunks)).Msg("[Notify] Telegram message sent")
	return nil
}

// AnswerCallback acknowledges an inline keyboard press, showing text as a toast.
func (t *Telegram) AnswerCallback(ctx context.Context, id, text string) error {
	form := url.Values{}
	form.Set("callback_query_id", id)
	if text != "" {
		form.Set("text", text)
	}
	_, err := t.callForm(ctx, "answerCallbackQuery", form, requestTimeout)
	return err
}

// SendDocument uploads the file at path to chat.
func (t *Telegram) SendDocument(ctx context.Context, chat int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("chat_id", strconv.FormatInt(chat, 10))
	if caption != "" {
		_ = mw.WriteField("caption", caption)
	}
	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	if _, err := t.call(ctx, "sendDocument", &body, mw.FormDataContentType(), time.Minute); err != nil {
		return err
	}
	t.logger.Debug().Int64("recipient", chat).Str("file", filepath.Base(path)).Msg("[Notify] Telegram document sent")
	return nil
}

// GetUpdates long-polls for updates with an id of at least offset, waiting
// up to wait for one to arrive.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(offset, 10))
	form.Set("timeout", strconv.Itoa(int(wait.Seconds())))
	form.Set("allowed_updates", `["message","callback_query"]`)

	raw, err := t.callForm(ctx, "getUpdates", form, wait+requestTimeout)
	if err != nil {
		return nil, err
	}
	var updates updateList
	if err := easyjson.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("telegram updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) callForm(ctx context.Context, method string, form url.Values, timeout time.Duration) ([]byte, error) {
	return t.call(ctx, method, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", timeout)
}

// call posts body to method and returns the raw "result" field.
func (t *Telegram) call(ctx context.Context, method string, body io.Reader, contentType string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		// the request URL carries the token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("telegram %s failed: %w", method, uerr.Err)
		}
		return nil, fmt.Errorf("telegram %s failed", method)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram response: %w", err)
	}

	var out apiResponse
	if err := easyjson.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("telegram response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram rejected %s (HTTP %d): %s", method, resp.StatusCode, out.Description)
	}
	return out.Result, nil
}

func encodeKeyboard(rows [][]Button) string {
	w := jwriter.Writer{}
	w.RawString(`{"inline_keyboard":[`)
	for i, row := range rows {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawByte('[')
		for j, b := range row {
			if j > 0 {
				w.RawByte(',')
			}
			w.RawString(`{"text":`)
			w.String(b.Text)
			w.RawString(`,"callback_data":`)
			w.String(b.Data)
			w.RawByte('}')
		}
		w.RawByte(']')
	}
	w.RawString(`]}`)
	out, _ := w.BuildBytes()
	return string(out)
}

// splitEscaped cuts text into pieces that stay within limit runes once
// HTML-escaped, preferring line breaks.
func splitEscaped(text string, limit int) []string {
	var (
		parts  []string
		buf    []rune
		size   int
		nl     = -1 // len(buf) just after the last newline
		nlSize int
	)
	for _, r := range text {
		c := escapedLen(r)
		if size+c > limit && len(buf) > 0 {
			cut, cutSize := len(buf), size
			if nl > 0 && nlSize > limit/2 {
				cut, cutSize = nl, nlSize
			}
			parts = append(parts, string(buf[:cut]))
			buf = append([]rune(nil), buf[cut:]...)
			size -= cutSize
			nl, nlSize = -1, 0
		}
		buf = append(buf, r)
		size += c
		if r == '\n' {
			nl, nlSize = len(buf), size
		}
	}
	if len(buf) > 0 || len(parts) == 0 {
		parts = append(parts, string(buf))
	}
	return parts
}

// escapedLen is the length of r after html.EscapeString.
func escapedLen(r rune) int {
	switch r {
	case '<', '>':
		return 4
	case '&', '\'', '"':
		return 5
	}
	return 1
}

// splitMessage cuts text into pieces of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
