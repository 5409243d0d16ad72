package notify

import "github.com/mailru/easyjson/jlexer"

// Update is one incoming Bot API update. Only text messages and inline
// keyboard presses are decoded.
type Update struct {
	ID            int64
	Message       *Message
	CallbackQuery *CallbackQuery
}

type Message struct {
	ID     int64
	ChatID int64
	FromID int64
	Text   string
}

type CallbackQuery struct {
	ID      string
	FromID  int64
	Message *Message
	Data    string
}

type updateList []Update

func (l *updateList) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('[')
	for !in.IsDelim(']') {
		var u Update
		u.UnmarshalEasyJSON(in)
		*l = append(*l, u)
		in.WantComma()
	}
	in.Delim(']')
}

func (u *Update) UnmarshalEasyJSON(in *jlexer.Lexer) {
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		switch key {
		case "update_id":
			u.ID = in.Int64()
		case "message":
			u.Message = decodeMessage(in)
		case "callback_query":
			u.CallbackQuery = decodeCallback(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

func decodeMessage(in *jlexer.Lexer) *Message {
	if in.IsNull() {
		in.Skip()
		return nil
	}
	m := &Message{}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		switch key {
		case "message_id":
			m.ID = in.Int64()
		case "chat":
			m.ChatID = decodeID(in)
		case "from":
			m.FromID = decodeID(in)
		case "text":
			m.Text = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	return m
}

func decodeCallback(in *jlexer.Lexer) *CallbackQuery {
	if in.IsNull() {
		in.Skip()
		return nil
	}
	q := &CallbackQuery{}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		switch key {
		case "id":
			q.ID = in.String()
		case "from":
			q.FromID = decodeID(in)
		case "message":
			q.Message = decodeMessage(in)
		case "data":
			q.Data = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	return q
}

// decodeID reads the "id" field of a chat or user object.
func decodeID(in *jlexer.Lexer) int64 {
	var id int64
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if key == "id" {
			id = in.Int64()
		} else {
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	return id
}
