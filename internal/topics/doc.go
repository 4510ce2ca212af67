// Package topics chooses what an automatically started conversation is about.
//
// Rotation draws from the configured topic list and skips topics the same
// business discussed in its most recent conversations. Fixed returns one topic
// and is mostly useful in tests and one-off starts.
package topics
