package util

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Digest utilities for content integrity validation.
// The distribution service publishes SHA-1 hex digests for every
// artifact; the content store addresses objects by the same digest.

// ComputeDigest computes the hex SHA-1 digest of data
func ComputeDigest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ComputeFileDigest computes the hex SHA-1 digest of a file's content
func ComputeFileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateDigest validates data against an expected hex digest
func ValidateDigest(data []byte, expected string) bool {
	return strings.EqualFold(ComputeDigest(data), expected)
}

// ValidateFileDigest reports whether the file at path hashes to expected.
// A missing or unreadable file is simply not valid.
func ValidateFileDigest(path, expected string) bool {
	actual, err := ComputeFileDigest(path)
	if err != nil {
		return false
	}
	return strings.EqualFold(actual, expected)
}

// ValidDigest reports whether s looks like a hex SHA-1 digest
func ValidDigest(s string) bool {
	if len(s) != sha1.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
