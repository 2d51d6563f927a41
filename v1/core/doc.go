// Package core coordinates playback synchronization between media
// participants. A Registry hands out Groups by key; a Group fans events out
// from one participant to all the others, suppresses echoes through a short
// propagation window and pauses everyone while any participant is buffering.
//
// Dispatch runs on the caller's goroutine and delivers to every other
// participant before returning. A participant's Receive may call back into
// the group; the group mutex is never held while participants run.
package core
