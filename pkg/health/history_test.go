package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesdetic/ledmesh/pkg/models"
)

func TestAttemptRing(t *testing.T) {
	r := newAttemptRing(3)

	assert.Empty(t, r.List())

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		r.Add(models.ConnectionAttempt{Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	list := r.List()
	require.Len(t, list, 2)
	assert.True(t, list[0].Timestamp.After(list[1].Timestamp), "newest first")
}

func TestAttemptRingOverwritesOldest(t *testing.T) {
	r := newAttemptRing(3)

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r.Add(models.ConnectionAttempt{Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	list := r.List()
	require.Len(t, list, 3, "ring must stay bounded")

	assert.True(t, list[0].Timestamp.Equal(base.Add(4*time.Second)))
	assert.True(t, list[2].Timestamp.Equal(base.Add(2*time.Second)), "oldest entries are evicted first")
}
