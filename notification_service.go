package main

import (
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// NotificationService pushes lifecycle alerts to Telegram. Messages flow
// through a bounded queue drained by a single sender goroutine, so a slow or
// dead Telegram API can never block the trading path.
type NotificationService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	queue  chan string
}

// NewNotificationService returns nil when no token is configured; every
// method is safe to call on a nil receiver.
func NewNotificationService(token, chatIDStr string) *NotificationService {
	if token == "" {
		log.Println("⚠️ TELEGRAM_BOT_TOKEN not set. Notifications disabled.")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("⚠️ Failed to init Telegram bot: %v", err)
		return nil
	}
	log.Printf("✅ Telegram authorized on account %s", bot.Self.UserName)

	chatID, _ := strconv.ParseInt(chatIDStr, 10, 64)
	if chatID == 0 {
		log.Println("⚠️ TELEGRAM_CHAT_ID not set. Notifications disabled.")
		return nil
	}

	return &NotificationService{
		bot:    bot,
		chatID: chatID,
		queue:  make(chan string, 64),
	}
}

// Start launches the sender goroutine.
func (ns *NotificationService) Start() {
	if ns == nil {
		return
	}
	go func() {
		for text := range ns.queue {
			msg := tgbotapi.NewMessage(ns.chatID, text)
			msg.ParseMode = "Markdown"
			if _, err := ns.bot.Send(msg); err != nil {
				log.Printf("⚠️ Failed to send Telegram message: %v", err)
			}
		}
	}()
}

// Notify enqueues a message without blocking; when the queue is full the
// message is dropped and logged.
func (ns *NotificationService) Notify(text string) {
	if ns == nil {
		return
	}
	select {
	case ns.queue <- text:
	default:
		log.Printf("⚠️ Notification queue full, dropping: %s", text)
	}
}

// Critical marks operator-attention alerts. Delivery is still best-effort;
// the log line is the durable record.
func (ns *NotificationService) Critical(text string) {
	log.Printf("🚨 CRITICAL: %s", text)
	ns.Notify("🚨 *CRITICAL*\n" + text)
}
