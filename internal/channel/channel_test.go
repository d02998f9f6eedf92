package channel

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"digestbot/pkg/logx"
)

func TestTelegramChatRouting(t *testing.T) {
	tg, err := NewTelegram(TelegramConfig{
		Token:  "test-token",
		ChatID: 100,
		TopicChats: map[string]int64{
			"sports": 200,
		},
		Offline: true,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}

	if got := tg.chatFor("sports"); got != 200 {
		t.Fatalf("sports should route to 200, got %d", got)
	}
	if got := tg.chatFor(" SPORTS "); got != 200 {
		t.Fatalf("routing should normalize the topic, got %d", got)
	}
	if got := tg.chatFor("politics"); got != 100 {
		t.Fatalf("unmapped topic should use the default chat, got %d", got)
	}
	if got := tg.chatFor(""); got != 100 {
		t.Fatalf("empty topic should use the default chat, got %d", got)
	}
}

func TestTelegramConfigErrors(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{ChatID: 1, Offline: true}, logx.Nop()); err == nil {
		t.Fatalf("empty token must fail")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "t", Offline: true}, logx.Nop()); err == nil {
		t.Fatalf("missing chat_id must fail")
	}
}

func TestEmailSendBuildsMessage(t *testing.T) {
	em, err := NewEmail(EmailConfig{
		Host:     "smtp.test",
		Username: "user",
		Password: "pass",
		From:     "bot@test",
		To:       []string{"a@test", "b@test"},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	em.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		if a == nil {
			t.Errorf("expected auth when username is set")
		}
		return nil
	}

	if err := em.Send(context.Background(), "digest body", "sports"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.test:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if gotFrom != "bot@test" || len(gotTo) != 2 {
		t.Fatalf("envelope wrong: from=%q to=%v", gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: News Digest - Sports\r\n") {
		t.Fatalf("subject missing topic:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\ndigest body") {
		t.Fatalf("body not separated from headers:\n%s", msg)
	}
}

func TestEmailConfigErrors(t *testing.T) {
	base := EmailConfig{Host: "h", From: "f@t", To: []string{"a@t"}}

	cfg := base
	cfg.Host = ""
	if _, err := NewEmail(cfg, logx.Nop()); err == nil {
		t.Fatalf("missing host must fail")
	}
	cfg = base
	cfg.To = nil
	if _, err := NewEmail(cfg, logx.Nop()); err == nil {
		t.Fatalf("missing recipients must fail")
	}
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	em, _ := NewEmail(EmailConfig{Name: "mail", Host: "h", From: "f@t", To: []string{"a@t"}}, logx.Nop())
	if err := r.Register(em); err != nil {
		t.Fatalf("Register: %v", err)
	}

	all, err := r.Select(nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(all) != 1 || all[0].Name() != "mail" {
		t.Fatalf("Select(nil) should return every channel")
	}
	if _, err := r.Select([]string{"missing"}); err == nil {
		t.Fatalf("unknown channel must fail")
	}
}
