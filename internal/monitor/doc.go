// Package monitor is the per-case monitoring engine.
//
// A sweep (triggered by the scheduler) selects due cases and enqueues one
// check per case into the task engine, keyed by case ID so that a case is
// never checked twice at once. A check fetches the registry snapshot, diffs
// it against the stored one, notifies subscribers when something they care
// about changed, persists the new snapshot and always reschedules the case.
//
// Service also exposes the inbound operations used by the API layer:
// starting and stopping monitoring, on-demand checks, settings updates,
// case registration, subscriptions and notification queries.
package monitor
