package app

import (
	"context"

	"caseobserver/internal/eventbus"
	"caseobserver/internal/monitor"
	logx "caseobserver/pkg/logx"
)

// failureAlertAfter is the number of consecutive failed checks of one case
// that raises an operator warning.
const failureAlertAfter = 3

// failureStreaks counts consecutive failed checks per case.
type failureStreaks map[string]int

// observe updates the streak for ev and reports whether the case just
// reached the alert threshold or just recovered from an alerted streak.
func (f failureStreaks) observe(ev eventbus.Event) (alert, recovered bool, streak int) {
	ce, ok := ev.Data.(monitor.CheckEvent)
	if !ok {
		return false, false, 0
	}
	switch ev.Type {
	case eventbus.TypeCheckFailed:
		f[ce.CaseID]++
		n := f[ce.CaseID]
		return n == failureAlertAfter, false, n
	case eventbus.TypeCheckCompleted:
		n := f[ce.CaseID]
		delete(f, ce.CaseID)
		return false, n >= failureAlertAfter, n
	}
	return false, false, 0
}

// watchEvents logs bus traffic at DEBUG and raises a WARN, which reaches
// the operator chat when configured, when a case keeps failing.
func (a *App) watchEvents(ctx context.Context, events <-chan eventbus.Event) {
	streaks := failureStreaks{}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", ev.Type), logx.Time("time", ev.Time))
			alert, recovered, n := streaks.observe(ev)
			ce, _ := ev.Data.(monitor.CheckEvent)
			switch {
			case alert:
				a.log.Warn("case keeps failing to refresh", logx.String("case_id", ce.CaseID), logx.Int("consecutive_failures", n), logx.String("err", ce.Error))
			case recovered:
				a.log.Info("case refreshed again", logx.String("case_id", ce.CaseID), logx.Int("failures_before", n))
			}
		}
	}
}
