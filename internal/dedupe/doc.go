// Package dedupe remembers Idempotency-Key headers so a retried start request
// returns the conversation the first attempt created instead of a conflict.
package dedupe
