// Package notifier forwards send outcomes and warning-level log lines to a
// Telegram chat.
//
// Notifications are queued without blocking the caller and delivered by a
// single worker under a token-bucket rate limit, with bounded retry.
// Identical texts inside the dedup window are suppressed so a flapping
// driver does not flood the chat.
package notifier
