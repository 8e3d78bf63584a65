// Package chunk splits large per-pixel payloads into bounded request bodies
// that respect device buffering limits.
package chunk

// DefaultMaxItems is the largest pixel count one request body may carry.
const DefaultMaxItems = 256

// Descriptor is one bounded slice of a larger per-pixel payload. Offset is
// the absolute starting index into the full addressable range, so a single
// chunk can be retransmitted without resending the whole payload.
type Descriptor struct {
	SegmentID int
	Offset    int
	Items     []string
}

// BuildChunks partitions items into ordered chunks of at most maxItems
// entries each. The concatenation of all chunks' Items reproduces the input;
// an empty input yields no chunks.
func BuildChunks(segmentID, startOffset int, items []string, maxItems int) []Descriptor {
	if len(items) == 0 {
		return nil
	}

	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	chunks := make([]Descriptor, 0, (len(items)+maxItems-1)/maxItems)

	for start := 0; start < len(items); start += maxItems {
		end := start + maxItems
		if end > len(items) {
			end = len(items)
		}

		chunks = append(chunks, Descriptor{
			SegmentID: segmentID,
			Offset:    startOffset + start,
			Items:     items[start:end],
		})
	}

	return chunks
}
