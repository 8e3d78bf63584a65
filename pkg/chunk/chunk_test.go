package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeItems(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("%06X", i)
	}

	return items
}

func TestBuildChunks(t *testing.T) {
	tests := []struct {
		name        string
		itemCount   int
		startOffset int
		maxItems    int
		wantChunks  int
		wantSizes   []int
	}{
		{
			name:       "empty input yields no chunks",
			itemCount:  0,
			maxItems:   256,
			wantChunks: 0,
		},
		{
			name:       "single item",
			itemCount:  1,
			maxItems:   256,
			wantChunks: 1,
			wantSizes:  []int{1},
		},
		{
			name:       "exactly one full chunk",
			itemCount:  256,
			maxItems:   256,
			wantChunks: 1,
			wantSizes:  []int{256},
		},
		{
			name:       "one over the boundary",
			itemCount:  257,
			maxItems:   256,
			wantChunks: 2,
			wantSizes:  []int{256, 1},
		},
		{
			name:       "large payload",
			itemCount:  1000,
			maxItems:   256,
			wantChunks: 4,
			wantSizes:  []int{256, 256, 256, 232},
		},
		{
			name:       "zero maxItems falls back to default",
			itemCount:  300,
			maxItems:   0,
			wantChunks: 2,
			wantSizes:  []int{256, 44},
		},
		{
			name:        "non-zero start offset",
			itemCount:   300,
			startOffset: 100,
			maxItems:    256,
			wantChunks:  2,
			wantSizes:   []int{256, 44},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := makeItems(tt.itemCount)
			chunks := BuildChunks(3, tt.startOffset, items, tt.maxItems)

			require.Len(t, chunks, tt.wantChunks)

			rebuilt := []string{}

			offset := tt.startOffset

			for i, c := range chunks {
				assert.Equal(t, tt.wantSizes[i], len(c.Items))
				assert.Equal(t, offset, c.Offset, "chunk %d offset", i)
				assert.Equal(t, 3, c.SegmentID)

				offset += len(c.Items)

				rebuilt = append(rebuilt, c.Items...)
			}

			assert.Equal(t, items, rebuilt, "concatenated chunks must reproduce the input")
		})
	}
}

func TestDescriptorPayload(t *testing.T) {
	d := Descriptor{
		SegmentID: 0,
		Offset:    512,
		Items:     []string{"FF0000", "00FF00"},
	}

	body, err := d.Payload()
	require.NoError(t, err)

	var decoded struct {
		Seg struct {
			ID *int          `json:"id"`
			I  []interface{} `json:"i"`
		} `json:"seg"`
	}

	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Nil(t, decoded.Seg.ID, "default segment must omit id")
	require.Len(t, decoded.Seg.I, 3)
	assert.Equal(t, float64(512), decoded.Seg.I[0], "pixel array leads with the offset")
	assert.Equal(t, "FF0000", decoded.Seg.I[1])
	assert.Equal(t, "00FF00", decoded.Seg.I[2])
}

func TestDescriptorPayloadSegmentID(t *testing.T) {
	d := Descriptor{SegmentID: 2, Offset: 0, Items: []string{"FFFFFF"}}

	body, err := d.Payload()
	require.NoError(t, err)

	var decoded struct {
		Seg struct {
			ID *int `json:"id"`
		} `json:"seg"`
	}

	require.NoError(t, json.Unmarshal(body, &decoded))
	require.NotNil(t, decoded.Seg.ID)
	assert.Equal(t, 2, *decoded.Seg.ID)
}

func TestSendOrdering(t *testing.T) {
	chunks := BuildChunks(0, 0, makeItems(600), 256)
	require.Len(t, chunks, 3)

	var offsets []int

	err := Send(context.Background(), chunks, func(_ context.Context, body []byte) error {
		var decoded struct {
			Seg struct {
				I []interface{} `json:"i"`
			} `json:"seg"`
		}

		require.NoError(t, json.Unmarshal(body, &decoded))

		offsets = append(offsets, int(decoded.Seg.I[0].(float64)))

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 256, 512}, offsets, "chunks must arrive in ascending offset order")
}

func TestSendStopsOnFirstFailure(t *testing.T) {
	chunks := BuildChunks(0, 0, makeItems(600), 256)

	sendErr := errors.New("device busy")

	var calls int

	err := Send(context.Background(), chunks, func(_ context.Context, _ []byte) error {
		calls++
		if calls == 2 {
			return sendErr
		}

		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 2, calls, "no chunk may be sent after a failure")
	assert.Contains(t, err.Error(), "offset 256")
}

func TestSendHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int

	err := Send(ctx, BuildChunks(0, 0, makeItems(10), 256), func(_ context.Context, _ []byte) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
