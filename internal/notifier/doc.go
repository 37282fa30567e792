// Package notifier delivers reminder messages to a user over chat and,
// when the user opted in, email.
//
// # Pipeline
//
// Notify deduplicates by Message.Key and queues the message; a small worker
// pool paces chat sends with a token bucket. With the pipeline disabled,
// Notify delivers inline instead.
//
// # Failures
//
// Each channel is attempted independently. A failure becomes a
// *ChannelDeliveryError that is logged, counted and published on the event
// bus; it never reaches the caller of Notify and never stops the other channel.
package notifier
