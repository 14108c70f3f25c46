package audio_test

import (
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
)

func TestChunksSplitsAndCloses(t *testing.T) {
	format := audio.Format{SampleRate: 16000, Channels: 1}
	pcm := make([]byte, 1920*2+100) // two full 30 ms chunks plus a remainder

	ch := audio.Chunks(pcm, format, 30*time.Millisecond)
	var sizes []int
	for c := range ch {
		sizes = append(sizes, len(c))
	}
	want := []int{1920, 1920, 100}
	if len(sizes) != len(want) {
		t.Fatalf("chunks: got %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d: got %d bytes, want %d", i, sizes[i], want[i])
		}
	}
}

func TestChunksEmptyInput(t *testing.T) {
	ch := audio.Chunks(nil, audio.Format{SampleRate: 16000, Channels: 1}, 30*time.Millisecond)
	if _, ok := <-ch; ok {
		t.Error("empty input should produce a closed, empty channel")
	}
}
