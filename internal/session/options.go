package session

import (
	"runtime"
	"time"
)

const (
	KeyMessages       = "chat_messages"
	KeyConversationID = "conversation_id"
	KeyClientID       = "client_id"

	DefaultWelcomeText    = "Hello! I'm the Nexios Digital virtual assistant. How can I help you today?"
	DefaultApologyText    = "Sorry, I had a problem processing your message. Please try again later or check your internet connection."
	DefaultProcessingText = "Processing your message..."

	DefaultHistoryLimit = 10
	DefaultBackoffBase  = time.Second
	DefaultBackoffMax   = 30 * time.Second

	persistTimeout = 5 * time.Second
)

type Options struct {
	// BaseURL is the backend's HTTP address; the realtime channel is derived from it.
	BaseURL  string
	Platform string

	WelcomeText    string
	ApologyText    string
	ProcessingText string

	HistoryLimit int
	BackoffBase  time.Duration
	BackoffMax   time.Duration

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Platform == "" {
		o.Platform = runtime.GOOS
	}
	if o.WelcomeText == "" {
		o.WelcomeText = DefaultWelcomeText
	}
	if o.ApologyText == "" {
		o.ApologyText = DefaultApologyText
	}
	if o.ProcessingText == "" {
		o.ProcessingText = DefaultProcessingText
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Backoff is the reconnection delay after the retry-th consecutive abnormal
// closure: min(max, base * 2^retry).
func Backoff(retry int, base, max time.Duration) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry >= 62 {
		return max
	}
	d := base * time.Duration(int64(1)<<uint(retry))
	if d <= 0 || d > max || d/time.Duration(int64(1)<<uint(retry)) != base {
		return max
	}
	return d
}
