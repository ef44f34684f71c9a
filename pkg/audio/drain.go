package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it during teardown so a producer blocked on a transport event channel
// can observe closure and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
