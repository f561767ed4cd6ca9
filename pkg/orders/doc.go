// Package orders records plan purchases and the downloads they unlock.
//
// Orders move through a small state machine:
//
//	pending -> completed | failed | expired
//	completed -> refunded
//
// Any other move returns ErrInvalidTransition. An order is unique per
// (provider, payment reference), which is what makes payment callbacks and
// webhooks safe to replay.
//
// A completed order unlocks every file of its tier and the tiers below it.
package orders
