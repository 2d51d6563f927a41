// Package lock provides the propagation window used by sync groups. A window
// is owned by one origin at a time and is released automatically after its
// TTL, which keeps an event pushed from A to B from bouncing back to A.
package lock
