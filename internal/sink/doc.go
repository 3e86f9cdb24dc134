// Package sink holds the outbound delivery channels used by the notifier:
// Mailjet email, an HTTP SMS gateway and a log-only fallback.
//
// Sinks classify failures: permanent ones (bad recipient, 4xx) are wrapped
// with engine.NoRetry so the delivery queue does not retry them.
package sink
