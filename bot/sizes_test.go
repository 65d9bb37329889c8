package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSize(t *testing.T) {
	tbl := []struct {
		w, h     int
		wasError bool
	}{
		{512, 768, false},
		{2048, 768, false},
		{1024, 1536, false},
		{2049, 768, true},
		{512, 2049, true},
		{63, 512, true},
		{512, 63, true},
		{2048, 2048, true}, // over the pixel limit
		{1216, 1536, true},
	}

	for _, tt := range tbl {
		err := validateSize(tt.w, tt.h)
		if tt.wasError {
			assert.Error(t, err, "%dx%d", tt.w, tt.h)
		} else {
			assert.NoError(t, err, "%dx%d", tt.w, tt.h)
		}
	}
}

func TestSnapSize(t *testing.T) {
	w, h := snapSize(513, 767)
	assert.Equal(t, 512, w)
	assert.Equal(t, 704, h)

	w, h = snapSize(512, 768)
	assert.Equal(t, 512, w)
	assert.Equal(t, 768, h)
}

func TestSizeDisplay(t *testing.T) {
	assert.Equal(t, "portrait_s (512x768)", sizeDisplay("portrait_s", 0, 0))
	assert.Equal(t, "custom: 640x640", sizeDisplay("custom", 640, 640))
	assert.Equal(t, "100x200", sizeDisplay("unknown", 100, 200))
}
