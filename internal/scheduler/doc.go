// Package scheduler fires persisted one-shot tasks.
//
// The queue only depends on the Scheduler interface. Two implementations
// exist:
//   - Runner: in-process async runner. Each task arms a timer; fired tasks
//     go to a small worker pool. Timers are rebuilt from storage on Start.
//   - Cron: fallback that polls storage for due tasks on a fixed tick and
//     runs them serially.
//
// Both delete the persisted task before invoking the handler, so a crash
// mid-run never fires the same task twice on restart.
package scheduler
