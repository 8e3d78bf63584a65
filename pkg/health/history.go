package health

import "github.com/aesdetic/ledmesh/pkg/models"

// attemptRing is a fixed-size ring of connection attempts. Not safe for
// concurrent use on its own; the monitor's lock guards it.
type attemptRing struct {
	attempts []models.ConnectionAttempt
	pos      int64
	size     int64
}

func newAttemptRing(size int) *attemptRing {
	return &attemptRing{
		attempts: make([]models.ConnectionAttempt, size),
		size:     int64(size),
	}
}

// Add records an attempt, overwriting the oldest entry once full.
func (r *attemptRing) Add(a models.ConnectionAttempt) {
	idx := r.pos % r.size
	r.attempts[idx] = a
	r.pos++
}

// List returns the recorded attempts, newest first.
func (r *attemptRing) List() []models.ConnectionAttempt {
	count := r.pos
	if count > r.size {
		count = r.size
	}

	out := make([]models.ConnectionAttempt, 0, count)

	for i := int64(0); i < count; i++ {
		idx := (r.pos - i - 1 + r.size) % r.size
		out = append(out, r.attempts[idx])
	}

	return out
}
