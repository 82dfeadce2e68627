package shell

import "strings"

// LineBuffer assembles chunk-based output into complete lines, tracked
// separately per stream. Chunks carry no line-boundary guarantee, so
// consumers that want line semantics feed chunks through Sink and call
// Flush once the stream ends.
type LineBuffer struct {
	emit    func(Stream, string)
	partial map[Stream]string
}

// NewLineBuffer returns a buffer that calls emit once per complete line,
// without the trailing newline.
func NewLineBuffer(emit func(Stream, string)) *LineBuffer {
	return &LineBuffer{
		emit:    emit,
		partial: make(map[Stream]string),
	}
}

// Sink accepts one chunk. It is shaped to plug directly into Run.
func (b *LineBuffer) Sink(chunk Chunk) {
	data := b.partial[chunk.Stream] + chunk.Data
	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		b.emit(chunk.Stream, data[:idx])
		data = data[idx+1:]
	}
	b.partial[chunk.Stream] = data
}

// Flush emits any trailing partial lines.
func (b *LineBuffer) Flush() {
	for stream, rest := range b.partial {
		if rest != "" {
			b.emit(stream, rest)
		}
		delete(b.partial, stream)
	}
}
