package fileid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileKey(t *testing.T) {
	id := FileKey("/foo/bar.jpg", 100, 10)
	assert.Equal(t, id, FileKey("/foo/bar.jpg", 100, 10), "same file version gives the same key")
	assert.Contains(t, id, prefix)
	assert.Equal(t, prefix, id[:len(prefix)])
}

func TestFileKey_changes(t *testing.T) {
	base := FileKey("/foo/bar.jpg", 100, 10)
	for name, other := range map[string]string{
		"path":  FileKey("/foo/baz.jpg", 100, 10),
		"mtime": FileKey("/foo/bar.jpg", 101, 10),
		"size":  FileKey("/foo/bar.jpg", 100, 11),
	} {
		assert.NotEqual(t, base, other, "different %s", name)
	}
}

func TestFileKey_normalized(t *testing.T) {
	id := FileKey("/foo/bar", 1, 1)
	assert.Equal(t, id, FileKey("/foo/bar/", 1, 1))
	assert.Equal(t, id, FileKey("/foo/./bar", 1, 1))
}
