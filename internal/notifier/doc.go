// Package notifier delivers operator alerts about stream outcomes.
//
// The Service watches the event bus for status changes (started, completed,
// cancelled, error), formats a short message and hands it to a Sink through a
// bounded queue with a rate limit and retries. A full queue drops alerts; the
// registry itself is never affected.
//
// # Telegram
//
// Telegram is the production Sink. It can also answer a few commands in the
// configured chat (/streams, /stats, /pause, /resume, /cancel) through a
// Controller, which the engine satisfies.
package notifier
