package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "text/plain; charset=utf-8", DetectContentType("notes/a.md"))
	assert.Equal(t, "text/plain; charset=utf-8", DetectContentType("board.canvas"))
	assert.Equal(t, "image/png", DetectContentType("img/a.png"))
	assert.Equal(t, "application/octet-stream", DetectContentType("blob.unknownext"))
}
