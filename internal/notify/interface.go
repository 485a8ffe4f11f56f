package notify

import "context"

// Message is a regression alert ready to be delivered.
type Message struct {
	Title string
	// Text is the short plain summary.
	Text string
	// Markdown is the full alert body.
	Markdown string
	URL      string
}

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}
