package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "digestbot/pkg/logx"
)

// TelegramConfig configures the Telegram delivery channel.
type TelegramConfig struct {
	Name  string
	Token string

	// ChatID is the default target chat.
	ChatID int64

	// TopicChats routes specific topics to their own chats
	// (e.g. "sports" -> a dedicated sports channel).
	TopicChats map[string]int64

	// RatePerSec caps outgoing messages. Telegram throttles bots hard, so
	// keep this low; defaults to 1.
	RatePerSec int

	// Offline skips the token check on startup (used by tests).
	Offline bool
}

// Telegram sends digest chunks through a bot, one message per chunk.
type Telegram struct {
	cfg     TelegramConfig
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger
}

var _ Channel = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "telegram"
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is not set")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	return &Telegram{
		cfg:     cfg,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (t *Telegram) Name() string { return t.cfg.Name }

// Send posts one chunk to the chat routed for topic.
func (t *Telegram) Send(ctx context.Context, text, topic string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	chatID := t.chatFor(topic)
	_, err := t.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: true,
	})
	if err != nil {
		t.log.Warn("telegram send failed",
			logx.Int64("chat_id", chatID), logx.String("topic", topic), logx.Err(err))
	}
	return err
}

func (t *Telegram) chatFor(topic string) int64 {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic != "" {
		if id, ok := t.cfg.TopicChats[topic]; ok && id != 0 {
			return id
		}
	}
	return t.cfg.ChatID
}
