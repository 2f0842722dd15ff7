package ply

import (
	"context"
	"fmt"

	"github.com/ligustah/chunkstream/pkg/stream"
)

// Decoder decodes chunk payloads into a *Cloud. It implements
// stream.Decoder.
type Decoder struct {
	// TrimAnchors drops points beyond the chunk's declared record count.
	// The chunker appends eight black anchor points at the corners of the
	// overall bounding box to every chunk; they are not part of the data.
	TrimAnchors bool
}

// Decode implements stream.Decoder.
func (d Decoder) Decode(_ context.Context, c stream.ChunkDescriptor, data []byte) (any, error) {
	cloud, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.ID, err)
	}
	if d.TrimAnchors && c.RecordCount >= 0 && int64(cloud.Len()) > c.RecordCount {
		cloud.Points = cloud.Points[:c.RecordCount]
	}
	return cloud, nil
}

var _ stream.Decoder = Decoder{}
