package speech

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Interrupter detects sustained candidate speech in raw PCM 16k frames so a
// candidate who starts answering over the interviewer cuts the synthesis
// short instead of talking into a wall. Detection is a smoothed RMS energy
// gate; production deployments can front it with proper AEC so interviewer
// playback does not self-trigger.
type Interrupter struct {
	mu        sync.Mutex
	threshold float64 // RMS floor for a voiced chunk
	window    []bool  // recent chunk verdicts, majority-voted
	smooth    int
	voiced    time.Duration // consecutive voiced audio accumulated
	hold      time.Duration // sustained speech needed to trigger
}

// NewInterrupter returns a detector tuned for 16kHz mono candidate audio.
func NewInterrupter() *Interrupter {
	return &Interrupter{threshold: 300, smooth: 4, hold: 250 * time.Millisecond}
}

// Feed consumes one chunk of little-endian PCM16 and reports whether enough
// sustained speech has accumulated to take the turn.
func (d *Interrupter) Feed(pcm []byte) bool {
	n := len(pcm) / 2
	if n == 0 {
		return false
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	dur := time.Duration(n) * time.Second / 16000

	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = append(d.window, rms >= d.threshold)
	if len(d.window) > d.smooth {
		d.window = d.window[len(d.window)-d.smooth:]
	}
	votes := 0
	for _, v := range d.window {
		if v {
			votes++
		}
	}
	if votes*2 >= len(d.window) && rms >= d.threshold {
		d.voiced += dur
	} else {
		d.voiced = 0
	}
	return d.voiced >= d.hold
}

// Reset clears accumulated state between utterances.
func (d *Interrupter) Reset() {
	d.mu.Lock()
	d.window = d.window[:0]
	d.voiced = 0
	d.mu.Unlock()
}
