package chunk

import (
	"context"
	"fmt"
)

// SendFunc transmits one encoded request body. Both the one-shot HTTP path
// and the pooled duplex path satisfy it.
type SendFunc func(ctx context.Context, body []byte) error

// Send transmits the chunks strictly in order: chunk n+1 is not sent until
// chunk n's send completes, bounding peak in-flight payload size on
// constrained receivers. The first failure stops the sequence; retry policy
// belongs to the transport.
func Send(ctx context.Context, chunks []Descriptor, send SendFunc) error {
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := c.Payload()
		if err != nil {
			return err
		}

		if err := send(ctx, body); err != nil {
			return fmt.Errorf("send chunk %d (offset %d): %w", i, c.Offset, err)
		}
	}

	return nil
}
