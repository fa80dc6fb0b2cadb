package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Container lifecycle events reported through notifications.
const (
	EventStarted = "started"
	EventStopped = "stopped"
)

// TelegramMessage holds the data for a container notification.
type TelegramMessage struct {
	Event     string
	Host      string
	Container string
	StartTime time.Time

	// Wake request (started).
	HWAddr string
	Source string

	// Container run (stopped).
	ExitCode     int
	Duration     time.Duration
	Reboot       bool
	ErrorMessage string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
