// Package audiodriver defines the boundary between the manager and the
// host audio interface (ALSA, CoreAudio, ASIO, ...). samd never talks to
// a driver directly; it talks to this interface, the same way the
// teacher isolates drain-check logic behind a small interface rather
// than calling a concrete implementation from server.Server.
package audiodriver

// Interface is the audio hardware boundary: the manager mixes each
// block into a flat, channel-interleaved buffer and hands it here for
// output, and reads hardware input the same way.
type Interface interface {
	// Open prepares the device for the given sample rate, block size (in
	// frames) and channel count, returning an error if the device cannot
	// support the request.
	Open(sampleRate, blockSize, channels int) error

	// Write pushes one block of interleaved float64 samples
	// (blockSize*channels values) to hardware output.
	Write(block []float64) error

	// Read fills block (blockSize*channels values) with hardware input.
	Read(block []float64) error

	// Close releases the device.
	Close() error
}

// Fake is an in-memory Interface implementation used in tests and by
// samd when run without a real sound card. Write appends every block
// to Written (for assertions); Read serves zeros unless Captured is
// pre-populated.
type Fake struct {
	SampleRate, BlockSize, Channels int
	Written                        [][]float64
	Captured                       [][]float64
	readIdx                        int
	closed                         bool
}

// NewFake returns a Fake ready for Open.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Open(sampleRate, blockSize, channels int) error {
	f.SampleRate, f.BlockSize, f.Channels = sampleRate, blockSize, channels
	return nil
}

func (f *Fake) Write(block []float64) error {
	cp := make([]float64, len(block))
	copy(cp, block)
	f.Written = append(f.Written, cp)
	return nil
}

func (f *Fake) Read(block []float64) error {
	if f.readIdx < len(f.Captured) {
		copy(block, f.Captured[f.readIdx])
		f.readIdx++
		return nil
	}
	for i := range block {
		block[i] = 0
	}
	return nil
}

func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close has been called, for test assertions.
func (f *Fake) Closed() bool { return f.closed }
