package upload

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/sgl-project/objclient/pkg/storage"
)

// Source is the content of a resumable upload. It is read strictly forward.
type Source struct {
	data []byte
	r    *bufio.Reader
	size int64
	read int64
}

// FromBytes uploads b.
func FromBytes(b []byte) *Source {
	return &Source{data: b, size: int64(len(b))}
}

// FromReader uploads everything r yields. The size is not known up front.
func FromReader(r io.Reader) *Source {
	return &Source{r: bufio.NewReader(r), size: -1}
}

// FromSizedReader uploads exactly size bytes from r.
func FromSizedReader(r io.Reader, size int64) *Source {
	return &Source{r: bufio.NewReader(r), size: size}
}

// Size returns the total size, -1 when unknown.
func (s *Source) Size() int64 {
	return s.size
}

// chunk returns up to n bytes starting at offset and whether they end the content.
func (s *Source) chunk(offset, n int64) ([]byte, bool, error) {
	if s.r == nil {
		if offset > s.size {
			return nil, false, storage.NewError(storage.CodeCannotSliceBlob,
				fmt.Sprintf("offset %d is beyond the %d byte source", offset, s.size))
		}
		end := min(offset+n, s.size)
		return s.data[offset:end], end == s.size, nil
	}

	if offset < s.read {
		return nil, false, storage.NewError(storage.CodeCannotSliceBlob,
			fmt.Sprintf("cannot rewind stream from %d to %d", s.read, offset))
	}
	if skip := offset - s.read; skip > 0 {
		skipped, err := io.CopyN(io.Discard, s.r, skip)
		s.read += skipped
		if err != nil {
			return nil, false, storage.WrapError(storage.CodeCannotSliceBlob,
				fmt.Sprintf("stream ended while seeking to %d", offset), err)
		}
	}

	if s.size >= 0 {
		n = max(min(n, s.size-offset), 0)
	}
	buf := make([]byte, n)
	k, err := io.ReadFull(s.r, buf)
	s.read += int64(k)
	buf = buf[:k]

	var final bool
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		final = true
	case err != nil:
		return nil, false, storage.WrapError(storage.CodeCannotSliceBlob, "failed to read upload source", err)
	case s.size >= 0:
		final = s.read >= s.size
	default:
		if _, perr := s.r.Peek(1); perr != nil {
			if !errors.Is(perr, io.EOF) {
				return nil, false, storage.WrapError(storage.CodeCannotSliceBlob, "failed to read upload source", perr)
			}
			final = true
		}
	}

	if final && s.size >= 0 && s.read < s.size {
		return nil, false, storage.NewError(storage.CodeCannotSliceBlob,
			fmt.Sprintf("source ended after %d of %d bytes", s.read, s.size))
	}
	return buf, final, nil
}
