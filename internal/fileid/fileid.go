// Package fileid provides deterministic keys for files on disk.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "file:"

// FileKey returns a stable key for a file version: the same cleaned absolute path,
// modification time and size always yield the same key.
func FileKey(absolutePath string, modTimeUnixNano, size int64) string {
	normalized := filepath.Clean(absolutePath)
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(modTimeUnixNano, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(size, 10)))
	return prefix + hex.EncodeToString(h.Sum(nil))
}
