package services

import (
	"fmt"
	"io"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Target is the interposed device of a session. Reads and writes are
// forwarded to the backing device through the session hooks.
type Target struct {
	s *Session
}

var (
	_ io.ReaderAt = (*Target)(nil)
	_ io.WriterAt = (*Target)(nil)
)

// Target returns the interposed device of s.
func (s *Session) Target() *Target {
	return &Target{s: s}
}

// Size returns the volume size in bytes.
func (t *Target) Size() int64 {
	return t.s.dev.Size()
}

// ReadAt reads from the backing device and runs the completion hook on the
// data before returning it.
func (t *Target) ReadAt(p []byte, off int64) (int, error) {
	req := &Request{Op: types.OpRead, Offset: off, Data: p}
	if t.s.OnSubmit(req) == VerdictFail {
		return 0, fmt.Errorf("%w: read at offset %d", types.ErrInjectedIO, off)
	}
	n, err := t.s.dev.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, t.s.OnComplete(req, err)
	}
	req.Data = p[:n]
	if herr := t.s.OnComplete(req, nil); herr != nil {
		return 0, herr
	}
	return n, err
}

// ReadAhead models a speculative prefetch, which the session always rejects.
func (t *Target) ReadAhead(p []byte, off int64) (int, error) {
	req := &Request{Op: types.OpRead, Offset: off, Data: p, ReadAhead: true}
	if t.s.OnSubmit(req) == VerdictFail {
		return 0, fmt.Errorf("%w: offset %d", types.ErrReadAhead, off)
	}
	return t.s.dev.ReadAt(p, off)
}

// WriteAt runs the submission hook on a copy of p and forwards the possibly
// corrupted copy to the backing device. p itself is never modified.
func (t *Target) WriteAt(p []byte, off int64) (int, error) {
	buf := append([]byte(nil), p...)
	req := &Request{Op: types.OpWrite, Offset: off, Data: buf}
	if t.s.OnSubmit(req) == VerdictFail {
		return 0, fmt.Errorf("%w: write at offset %d", types.ErrInjectedIO, off)
	}
	n, err := t.s.dev.WriteAt(buf, off)
	return n, t.s.OnComplete(req, err)
}
