package runner

import "sync"

const truncatedSuffix = "\n... (output truncated)"

// headBuffer keeps the first limit bytes written to it and drops the rest.
// Write never fails so the producer is not interrupted by a full buffer.
type headBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newHeadBuffer(limit int) *headBuffer {
	if limit <= 0 {
		limit = defaultMaxOutputBytes
	}
	return &headBuffer{limit: limit}
}

func (b *headBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - len(b.buf)
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *headBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.buf), len(b.buf)+len(truncatedSuffix))
	copy(out, b.buf)
	if b.truncated {
		out = append(out, truncatedSuffix...)
	}
	return out
}
