package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwnsHandle(t *testing.T) {
	assert.True(t, OwnsHandle("dev-1", "dev-1/abc"))
	assert.False(t, OwnsHandle("dev-1", "dev-2/abc"))
	assert.False(t, OwnsHandle("dev-1", "dev-10/abc"))
	assert.False(t, OwnsHandle("dev-1", "dev-1/../dev-2/abc"))
	assert.False(t, OwnsHandle("", "/abc"))
}

func TestMetaFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", metaFilename(map[string]string{"Filename": "report.pdf"}, "dev/x"))
	assert.Equal(t, "report.pdf", metaFilename(map[string]string{"X-Amz-Meta-Filename": "report.pdf"}, "dev/x"))
	assert.Equal(t, "x", metaFilename(nil, "dev/x"))
}

func TestDisabledStore(t *testing.T) {
	var s AttachmentStore = disabledStore{}
	_, err := s.Put(context.Background(), "dev", "a.txt", "text/plain", strings.NewReader("a"), 1)
	assert.ErrorIs(t, err, ErrStorageDisabled)
	_, err = s.Fetch(context.Background(), "dev", "dev/x", 10)
	assert.ErrorIs(t, err, ErrStorageDisabled)
}
