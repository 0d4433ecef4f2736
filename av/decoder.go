package av

// InitResult is the outcome of an asynchronous decoder initialization.
// Kind names the track type the decoder settled on; Err is non-nil when
// initialization failed.
type InitResult struct {
	Kind TrackKind
	Err  error
}

// DecoderConfig is the configuration a decoder is created with. Recreating
// a decoder with a new config is the only way to change it afterwards.
type DecoderConfig struct {
	Track TrackInfo
}

// DecoderCallback receives the asynchronous results of decoder operations.
// Implemented per owner; which owner's callback fires is decided by
// whoever currently holds the shared decoder.
type DecoderCallback interface {
	OnOutput(*Frame)
	OnError(error)
	OnInputExhausted()
	OnDrainComplete()
	OnResourcesReleased()
}

// Decoder is an underlying hardware or software decoder. Input, Flush and
// Drain report synchronous submission failure only; decoded frames, drain
// completion and errors arrive through the DecoderCallback.
type Decoder interface {
	Init() <-chan InitResult
	Input(*Sample) error
	Flush() error
	Drain() error
	Shutdown()
}

// TaskRunner serializes decoder work onto one execution context. Completion
// callbacks delivered through it never interleave with each other.
type TaskRunner interface {
	Do(func())
}

// DecoderFactory builds the real decoder instance. The callback and runner
// are owned by the caller and outlive the decoder.
type DecoderFactory interface {
	CreateDecoder(cfg DecoderConfig, cb DecoderCallback, runner TaskRunner) (Decoder, error)
}
