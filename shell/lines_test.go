package shell

import (
	"reflect"
	"testing"
)

type taggedLine struct {
	stream Stream
	line   string
}

func collectLines(chunks []Chunk) []taggedLine {
	var lines []taggedLine
	buffer := NewLineBuffer(func(stream Stream, line string) {
		lines = append(lines, taggedLine{stream, line})
	})
	for _, chunk := range chunks {
		buffer.Sink(chunk)
	}
	buffer.Flush()
	return lines
}

func TestLineBuffer_SplitsAcrossChunks(t *testing.T) {
	lines := collectLines([]Chunk{
		{Stdout, "hel"},
		{Stdout, "lo\nwor"},
		{Stdout, "ld\n"},
	})

	want := []taggedLine{{Stdout, "hello"}, {Stdout, "world"}}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("expected %v, got %v", want, lines)
	}
}

func TestLineBuffer_KeepsStreamsSeparate(t *testing.T) {
	lines := collectLines([]Chunk{
		{Stdout, "out-"},
		{Stderr, "err-"},
		{Stdout, "done\n"},
		{Stderr, "done\n"},
	})

	want := []taggedLine{{Stdout, "out-done"}, {Stderr, "err-done"}}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("expected %v, got %v", want, lines)
	}
}

func TestLineBuffer_FlushEmitsTrailingPartial(t *testing.T) {
	lines := collectLines([]Chunk{{Stdout, "no newline"}})

	want := []taggedLine{{Stdout, "no newline"}}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("expected %v, got %v", want, lines)
	}
}

func TestLineBuffer_MultipleLinesInOneChunk(t *testing.T) {
	lines := collectLines([]Chunk{{Stdout, "a\nb\nc\n"}})

	want := []taggedLine{{Stdout, "a"}, {Stdout, "b"}, {Stdout, "c"}}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("expected %v, got %v", want, lines)
	}
}
