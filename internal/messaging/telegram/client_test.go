package telegram

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"surveybot/internal/messaging"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short: %v", got)
	}

	in := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(in, 8)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("newline split: %q", got)
	}

	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len([]rune(got[2])) != 5 {
		t.Fatalf("hard split: %q", got)
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      messaging.Target
		chat    int64
		thread  int
		wantErr bool
	}{
		{messaging.Target{ID: "12345"}, 12345, 0, false},
		{messaging.Target{ID: "-100200", ThreadRef: "77"}, -100200, 77, false},
		{messaging.Target{ID: "bob"}, 0, 0, true},
		{messaging.Target{ID: "1", ThreadRef: "topic"}, 0, 0, true},
		{messaging.Target{}, 0, 0, true},
	}
	for _, tc := range cases {
		chat, thread, err := parseTarget(tc.in)
		if tc.wantErr {
			if !errors.Is(err, messaging.ErrInvalidTarget) {
				t.Fatalf("%+v: err=%v want ErrInvalidTarget", tc.in, err)
			}
			continue
		}
		if err != nil || chat != tc.chat || thread != tc.thread {
			t.Fatalf("%+v: got %d,%d,%v", tc.in, chat, thread, err)
		}
	}
}

func TestChatName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		ch   *tele.Chat
		want string
	}{
		{&tele.Chat{FirstName: "Jane", LastName: "Doe", Username: "jd"}, "Jane Doe"},
		{&tele.Chat{FirstName: "Jane"}, "Jane"},
		{&tele.Chat{Username: "jd"}, "jd"},
		{&tele.Chat{Title: "Ops"}, "Ops"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := chatName(tc.ch); got != tc.want {
			t.Fatalf("chatName(%+v)=%q want %q", tc.ch, got, tc.want)
		}
	}
}
