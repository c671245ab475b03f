package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleReleaseFreesData(t *testing.T) {
	r := NewHandleRegistry()

	h := r.Acquire(PageImage{Number: 1, Data: []byte("pixels")})
	assert.Equal(t, 1, r.Outstanding())
	assert.Equal(t, []byte("pixels"), h.Page().Data)

	h.Release()
	assert.Equal(t, 0, r.Outstanding())
	assert.Nil(t, h.Page().Data)

	// Double release is a no-op.
	h.Release()
	assert.Equal(t, 0, r.Outstanding())
}

func TestReleaseAllDrainsRegistry(t *testing.T) {
	r := NewHandleRegistry()

	handles := make([]*Handle, 0, 5)
	for i := 1; i <= 5; i++ {
		handles = append(handles, r.Acquire(PageImage{Number: i, Data: []byte{byte(i)}}))
	}
	handles[2].Release()
	assert.Equal(t, 4, r.Outstanding())

	r.ReleaseAll()
	assert.Equal(t, 0, r.Outstanding())
	for _, h := range handles {
		assert.Nil(t, h.Page().Data)
	}
}

func TestAcquireRefusedAfterReleaseAll(t *testing.T) {
	r := NewHandleRegistry()
	r.Acquire(PageImage{Number: 1, Data: []byte("pixels")})
	r.ReleaseAll()

	// A handle created behind the release pass would leak, so acquisition
	// is refused once the registry is torn down.
	h := r.Acquire(PageImage{Number: 2, Data: []byte("late")})
	assert.Nil(t, h)
	assert.Equal(t, 0, r.Outstanding())
}
