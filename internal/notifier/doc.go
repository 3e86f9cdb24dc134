// Package notifier turns detected case changes into persisted notifications
// and delivers them to subscribers.
//
// # Dispatch
//
// Dispatcher applies the per-case decision rule (a changed category whose
// toggle is on), renders a deterministic subject and message, persists one
// Notification per subscriber and hands channel deliveries to the queue.
//
// # Delivery
//
// Service is an asynchronous pipeline: queue, worker pool, token-bucket rate
// limit, bounded retry with jittered backoff and an optional in-memory dedup
// window. Delivery is fire-and-forget: a failure is logged and published on
// the event bus but never reaches the check that produced the notification,
// and a failed delivery is not retried on a later sweep.
package notifier
