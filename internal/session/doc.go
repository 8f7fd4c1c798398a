// Package session implements the per-client flash mailbox used to carry a
// single notification from a state-changing request to the next page render.
//
// The client only ever holds a signed, opaque session id in a cookie. The
// notification itself lives server side in a [Store]: in process
// ([MemoryStore]) for a single instance, or in Redis ([RedisStore]) when
// several instances share traffic.
//
// The mailbox has one slot. [Manager.SetNotification] overwrites whatever is
// there and [Manager.TakeNotification] returns and clears it in one store
// operation, so a notification is displayed at most once.
package session
