// Package gid exposes the identity of the current goroutine so affinity
// guards can compare it against a recorded owner.
package gid

import "runtime"

// Get returns the current goroutine's ID, parsed from the header line of
// its stack trace ("goroutine N [running]:").
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
