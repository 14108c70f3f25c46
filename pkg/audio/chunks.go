package audio

import "time"

// Chunks splits a PCM buffer into fixed-duration chunks and returns a closed,
// fully buffered channel carrying them, suitable for handing to a playback
// device. The final chunk may be shorter.
func Chunks(pcm []byte, format Format, chunkDur time.Duration) <-chan []byte {
	size := format.BytesPerFrame(chunkDur)
	if size <= 0 {
		size = len(pcm)
	}
	n := 0
	if size > 0 {
		n = (len(pcm) + size - 1) / size
	}
	ch := make(chan []byte, n)
	for len(pcm) > 0 {
		end := size
		if end > len(pcm) {
			end = len(pcm)
		}
		ch <- pcm[:end]
		pcm = pcm[end:]
	}
	close(ch)
	return ch
}
