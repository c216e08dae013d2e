package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/platform"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// === ParseEvent ===

func TestParseEvent_TextMessage(t *testing.T) {
	a := &Adapter{}
	ev := a.ParseEvent([]byte(`{
		"update_id": 100,
		"message": {"message_id": 10, "chat": {"id": 42, "type": "private"}, "text": "hello"}
	}`))

	if ev.Kind != platform.EventText {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.UpdateID != "100" || ev.ChatID != "42" || ev.Text != "hello" {
		t.Errorf("ev = %+v", ev)
	}
}

func TestParseEvent_Command(t *testing.T) {
	a := &Adapter{}
	ev := a.ParseEvent([]byte(`{
		"update_id": 101,
		"message": {"message_id": 11, "chat": {"id": 42, "type": "private"}, "text": "/Start@MyBot now please"}
	}`))

	if ev.Kind != platform.EventCommand {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Command != "start" {
		t.Errorf("command = %q", ev.Command)
	}
	if ev.Args != "now please" {
		t.Errorf("args = %q", ev.Args)
	}
}

func TestParseEvent_CallbackQuery(t *testing.T) {
	a := &Adapter{}
	ev := a.ParseEvent([]byte(`{
		"update_id": 102,
		"callback_query": {
			"id": "cb1",
			"data": "yes",
			"message": {"message_id": 12, "chat": {"id": 42, "type": "private"}}
		}
	}`))

	if ev.Kind != platform.EventButton {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.ChatID != "42" || ev.Value != "yes" {
		t.Errorf("ev = %+v", ev)
	}
	if ev.CallbackID != "cb1" {
		t.Errorf("callback id = %q", ev.CallbackID)
	}
}

func TestParseEvent_UnrecognizedShapes(t *testing.T) {
	a := &Adapter{}
	cases := []struct {
		name string
		raw  string
	}{
		{"garbage", `not json at all`},
		{"empty update", `{"update_id": 103}`},
		{"edited message only", `{"update_id": 104, "edited_message": {"message_id": 1, "chat": {"id": 42}, "text": "x"}}`},
		{"sticker message", `{"update_id": 105, "message": {"message_id": 2, "chat": {"id": 42}}}`},
	}
	for _, tc := range cases {
		if ev := a.ParseEvent([]byte(tc.raw)); ev.Kind != platform.EventUnknown {
			t.Errorf("%s: kind = %q, want unknown", tc.name, ev.Kind)
		}
	}
}

// === Command parsing ===

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in       string
		cmd, arg string
	}{
		{"/start", "start", ""},
		{"/start extra", "start", "extra"},
		{"/START", "start", ""},
		{"/reset@SomeBot", "reset", ""},
		{"/help@SomeBot trailing  ", "help", "trailing"},
	}
	for _, tc := range cases {
		cmd, args := splitCommand(tc.in)
		if cmd != tc.cmd || args != tc.arg {
			t.Errorf("splitCommand(%q) = (%q, %q), want (%q, %q)", tc.in, cmd, args, tc.cmd, tc.arg)
		}
	}
}

// === Keyboard layout ===

func TestInlineKeyboard_RowChunking(t *testing.T) {
	buttons := []entity.Button{
		{Text: "A", Value: "a"},
		{Text: "B", Value: "b"},
		{Text: "C", Value: "c"},
	}
	kb := inlineKeyboard(buttons)

	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d", len(kb.InlineKeyboard))
	}
	if len(kb.InlineKeyboard[0]) != 2 || len(kb.InlineKeyboard[1]) != 1 {
		t.Errorf("row sizes = %d, %d", len(kb.InlineKeyboard[0]), len(kb.InlineKeyboard[1]))
	}
	first := kb.InlineKeyboard[0][0]
	if first.Text != "A" || first.CallbackData == nil || *first.CallbackData != "a" {
		t.Errorf("first button = %+v", first)
	}
}

// === Error classification ===

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"unauthorized", &tgbotapi.Error{Code: 401, Message: "Unauthorized"}, apperrors.CodeUnauthorized},
		{"forbidden", &tgbotapi.Error{Code: 403, Message: "bot was blocked"}, apperrors.CodeUnauthorized},
		{"bad request", &tgbotapi.Error{Code: 400, Message: "chat not found"}, apperrors.CodeInvalidInput},
		{"flood", &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, apperrors.CodeTransient},
		{"server error", &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}, apperrors.CodeTransient},
		{"network", errNetwork{}, apperrors.CodeTransient},
	}
	for _, tc := range cases {
		if got := apperrors.CodeOf(classify(tc.err)); got != tc.code {
			t.Errorf("%s: code = %s, want %s", tc.name, got, tc.code)
		}
	}
	if classify(nil) != nil {
		t.Error("nil must classify to nil")
	}
}

type errNetwork struct{}

func (errNetwork) Error() string { return "connection refused" }

// === Chat ids ===

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-100123456")
	if err != nil {
		t.Fatalf("valid id: %v", err)
	}
	if id != -100123456 {
		t.Errorf("id = %d", id)
	}
	if _, err := parseChatID("@channelname"); !apperrors.IsInvalidInput(err) {
		t.Errorf("want invalid input, got %v", err)
	}
}
