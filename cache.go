package repair

import (
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FrameCache serves decoded archive frames, keeping the most recently used
// ones in memory. It is safe for concurrent use.
type FrameCache struct {
	archive *Archive
	frames  *lru.Cache[int, []byte]
}

// NewFrameCache creates a cache holding up to size decoded frames of a.
func NewFrameCache(a *Archive, size int) (*FrameCache, error) {
	frames, err := lru.New[int, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("frame cache: %w", err)
	}
	return &FrameCache{archive: a, frames: frames}, nil
}

// Frame returns the decoded frame at index. The returned slice is shared and
// must not be modified.
func (c *FrameCache) Frame(index int) ([]byte, error) {
	if frame, ok := c.frames.Get(index); ok {
		return frame, nil
	}
	frame, err := c.archive.Frame(index)
	if err != nil {
		return nil, err
	}
	c.frames.Add(index, frame)
	return frame, nil
}

// ReadAt copies decoded bytes starting at offset off into p, crossing frame
// boundaries as needed.
func (c *FrameCache) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %d", off)
	}
	n := 0
	base := int64(0)
	for i, size := range c.archive.Sizes {
		if n == len(p) {
			break
		}
		end := base + int64(size)
		if off+int64(n) < end {
			frame, err := c.Frame(i)
			if err != nil {
				return n, err
			}
			n += copy(p[n:], frame[off+int64(n)-base:])
		}
		base = end
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	return c.frames.Len()
}
