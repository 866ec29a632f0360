package mnet

// Medium is the shared broadcast channel mnet runs on. Every participant
// hears every frame broadcast by any other participant in range; mnet takes
// care of addressing, reliability and flooding on top of that.
//
// Implementations may run goroutines for I/O plumbing, but they MUST NOT
// interpret frames: a frame is an opaque byte slice from the transport's
// point of view.
type Medium interface {
	// Broadcast transmits one frame to every other participant in range.
	// The medium must not retain or mutate the slice after returning.
	Broadcast(frame []byte) error

	// FrameCh delivers the frames heard on the medium. Implementations
	// close the channel when the medium dies; they are free to drop frames
	// when the reader does not keep up, a broadcast medium is lossy anyway.
	FrameCh() <-chan []byte

	Close() error
}
