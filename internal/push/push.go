// Package push defines the delivery channel contract and its
// implementations: Firebase Cloud Messaging and a logging dry-run channel.
package push

import "context"

// Message is one notification addressed to one token, carrying both the
// mobile and the web push rendering.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string

	Mobile MobileOptions
	Web    WebOptions
}

// MobileOptions are delivery hints for native apps.
type MobileOptions struct {
	Priority         string // "high" or "normal"
	ContentAvailable bool   // wake the app for background handling
}

type WebOptions struct {
	Urgency string // "very-low" | "low" | "normal" | "high"
	Icon    string
	Badge   string
	Link    string // absolute https URL opened on click; may be empty
}

// Response is the outcome for one message of a batch, in input order.
type Response struct {
	Token        string
	Success      bool
	MessageID    string
	Err          error
	Unregistered bool // the token is no longer valid
}

type BatchResult struct {
	Responses    []Response
	SuccessCount int
	FailureCount int
}

// Channel submits messages to a push provider.
//
// SendBatch returns an error only when the call as a whole failed; per
// message failures are reported in BatchResult. len(msgs) never exceeds
// MaxBatch.
type Channel interface {
	Name() string
	MaxBatch() int
	SendBatch(ctx context.Context, msgs []Message) (BatchResult, error)
}
