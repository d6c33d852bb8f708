package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is how much of an upload is kept for content type detection.
const sniffLen = 3072

// spooled is an upload copied to a temporary file so the vault gets a
// seekable body of known size.
type spooled struct {
	file        *os.File
	size        int64
	checksum    string
	contentType string
}

type headBuffer struct {
	buf []byte
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := sniffLen - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

// spool copies body into dir (the OS temp dir when empty), hashing it and
// sniffing its content type.
func spool(dir string, body io.Reader) (*spooled, error) {
	f, err := os.CreateTemp(dir, "plmsync-upload-*")
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	hash := sha256.New()
	head := &headBuffer{}
	n, err := io.Copy(io.MultiWriter(f, hash, head), body)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("spool: %w", err)
	}
	return &spooled{
		file:        f,
		size:        n,
		checksum:    hex.EncodeToString(hash.Sum(nil)),
		contentType: mimetype.Detect(head.buf).String(),
	}, nil
}

func (s *spooled) Close() error {
	err := s.file.Close()
	_ = os.Remove(s.file.Name())
	return err
}
