package media

// FrameBuffer is a decoded picture whose backing memory is pinned by its
// producer. The bytes remain valid until Release is called; after that the
// producer is free to reuse or invalidate the memory. Release must be called
// exactly once, by the single owner of the buffer — in this pipeline, the
// orchestrator.
type FrameBuffer interface {
	Bytes() []byte
	Release()
}
