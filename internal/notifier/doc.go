// Package notifier relays lifecycle events to an external delivery system.
//
// The service subscribes to the lifecycle topics on the event bus, renders a
// Notification per event and hands it to a Dispatcher through a bounded
// queue, a worker pool and a token-bucket rate limit. A notification is
// identified by (topic, schedule, due instant); repeats inside the dedup
// window are suppressed, optionally across restarts through the storage
// dedup table.
//
// Delivery itself (push, email, chat) is out of scope: the default
// LogDispatcher only logs what would be sent.
package notifier
