// Package watchbus streams sync group records to observers. Records are
// published under the group key; watchers follow one key or every key that
// shares a prefix, such as all groups of one annotation namespace.
package watchbus

import "context"

// WatchBus provides a simple message bus for streaming events.
type WatchBus interface {
	// Publish sends data to all watchers of key and to prefix watchers
	// whose prefix matches key.
	Publish(ctx context.Context, key string, data []byte) error
	// Watch subscribes to messages for key. The returned channel receives
	// payloads until ctx is canceled or Unwatch is called.
	Watch(ctx context.Context, key string) (chan []byte, error)
	// SubscribePrefix subscribes to messages for every key starting with prefix.
	SubscribePrefix(ctx context.Context, prefix string) (chan []byte, error)
	// Unwatch stops delivering messages for key (or prefix) to ch.
	Unwatch(ctx context.Context, key string, ch chan []byte) error
}
