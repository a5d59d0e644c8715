// Package queue persists outbound messages and sends them from a scheduler
// worker, retrying failed sends after 60s and 120s before giving up.
//
// Task arguments only carry a reference ({"job_id": "..."}); the payload
// itself lives in the job store so retries reschedule the same reference.
// Older tasks that carry a full payload are still accepted and migrated into
// the store on first run.
package queue
