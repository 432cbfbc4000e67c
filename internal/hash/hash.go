// Package hash computes content identifiers and transfer checksums.
//
// Repository blobs and directories are addressed by SHA-256 content ids. The
// editor protocol additionally carries MD5 text checksums on apply-textdelta
// and close-file, which clients use to verify the result of applying a delta.
package hash

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Hasher provides an abstraction for content hashing.
type Hasher interface {
	// ContentID returns the storage address of data.
	ContentID(data []byte) string

	// Checksum returns the text checksum sent to clients.
	Checksum(data []byte) string
}

// SHA256Hasher implements Hasher using SHA-256 content ids and MD5 checksums.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a new SHA256Hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// ContentID returns the hex SHA-256 of data.
func (h *SHA256Hasher) ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Checksum returns the hex MD5 of data.
func (h *SHA256Hasher) Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// DirectoryID derives a content id for a directory from its entries and
// properties. Two directories with the same id hold identical subtrees.
// Names and values are quoted so no property value can mimic another line.
func DirectoryID(h Hasher, entries map[string]string, props map[string]string) string {
	var b strings.Builder
	b.WriteString("dir\n")
	for _, name := range sortedKeys(entries) {
		fmt.Fprintf(&b, "E %s %s\n", strconv.Quote(name), strconv.Quote(entries[name]))
	}
	for _, name := range sortedKeys(props) {
		fmt.Fprintf(&b, "P %s %s\n", strconv.Quote(name), strconv.Quote(props[name]))
	}
	return h.ContentID([]byte(b.String()))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FakeHasher implements Hasher with readable ids for testing.
type FakeHasher struct {
	ids map[string]string
}

// NewFakeHasher creates a new FakeHasher.
func NewFakeHasher() *FakeHasher {
	return &FakeHasher{
		ids: make(map[string]string),
	}
}

// SetID pins the id returned for a specific content (for testing).
func (h *FakeHasher) SetID(content, id string) {
	h.ids[content] = id
}

// ContentID returns the pinned id, or the content itself prefixed with "id:".
func (h *FakeHasher) ContentID(data []byte) string {
	if id, ok := h.ids[string(data)]; ok {
		return id
	}
	return "id:" + string(data)
}

// Checksum returns the content prefixed with "sum:".
func (h *FakeHasher) Checksum(data []byte) string {
	return "sum:" + string(data)
}
