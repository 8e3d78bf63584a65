package chunk

import (
	"encoding/json"
	"fmt"
)

// segmentBody is the wire shape of one chunked pixel update. The pixel array
// leads with the absolute starting index followed by per-pixel hex colors.
type segmentBody struct {
	ID     *int          `json:"id,omitempty"`
	Pixels []interface{} `json:"i"`
}

type updateBody struct {
	Segment segmentBody `json:"seg"`
}

// Payload encodes the chunk as a request body. The segment envelope carries
// an id only when addressing a non-default segment.
func (d Descriptor) Payload() ([]byte, error) {
	pixels := make([]interface{}, 0, len(d.Items)+1)
	pixels = append(pixels, d.Offset)

	for _, item := range d.Items {
		pixels = append(pixels, item)
	}

	body := updateBody{Segment: segmentBody{Pixels: pixels}}

	if d.SegmentID != 0 {
		id := d.SegmentID
		body.Segment.ID = &id
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chunk at offset %d: %w", d.Offset, err)
	}

	return data, nil
}
