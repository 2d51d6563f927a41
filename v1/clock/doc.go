// Package clock provides cancelable scheduled tasks. Real wraps the runtime
// timers; Manual is advanced by hand so time-dependent code such as the sync
// lock window can be tested without sleeping.
package clock
