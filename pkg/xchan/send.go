// Package xchan contains helpers for buffered channels used as bounded queues.
package xchan

// SendDropOldest sends v to ch without blocking. If the channel buffer is full,
// the oldest queued value is removed to make room and returned with dropped == true.
//
// ch must be buffered and this must be its only sender; concurrent receivers are fine.
func SendDropOldest[T any](ch chan T, v T) (dropped T, isDropped bool) {
	for {
		select {
		case ch <- v:
			return dropped, isDropped
		default:
		}

		select {
		case old := <-ch:
			dropped, isDropped = old, true
		default:
			// a receiver made room in the meantime
		}
	}
}
