package utils

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// FileHash returns the hex MD5 of a file. MD5 matches what `md5sum` prints on
// the remote side, so hashes from both machines are directly comparable.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
