// Package wire implements the length-prefixed frame protocol spoken between
// a pool worker and its parent: a request frame carries a script, a response
// frame carries a result code plus three string blobs.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// MajorVersion and MinorVersion are the fixed protocol version numbers for
// this build. A worker that receives a request header with a different
// major or minor version must treat it as fatal.
const (
	MajorVersion uint16 = 1
	MinorVersion uint16 = 1
)

const (
	lengthPrefixSize = 4

	// RequestHeaderSize is the byte length of a request frame's fixed
	// header (scriptLen + major + minor), before the script bytes.
	RequestHeaderSize = 4 + 2 + 2

	responseHeaderSize = 4 * 4 // code + codeLen + infoLen + resultLen
)

// ErrTimeout is returned when a read or write did not complete within its
// deadline.
var ErrTimeout = errors.New("wire: i/o deadline exceeded")

// ErrClosed is returned when the peer end of the pipe is gone.
var ErrClosed = errors.New("wire: pipe closed")

// ErrVersionMismatch is returned by DecodeRequestHeader when the header's
// major/minor numbers do not match MajorVersion/MinorVersion.
var ErrVersionMismatch = errors.New("wire: protocol version mismatch")

// ErrShortHeader is returned when a buffer is too small to hold a header.
var ErrShortHeader = errors.New("wire: response shorter than header")

// RequestHeader is the fixed-size prefix of a request frame's body.
type RequestHeader struct {
	ScriptLen uint32
	Major     uint16
	Minor     uint16
}

// IsPing reports whether this header describes a zero-length "ping" request.
func (h RequestHeader) IsPing() bool {
	return h.ScriptLen == 0
}

// ResponseHeader is the fixed-size prefix of a response frame's body. The
// three length fields describe, in order, the error-code blob, the
// error-info blob, and the result blob that follow in the frame body.
type ResponseHeader struct {
	Code       int32
	CodeLen    uint32
	InfoLen    uint32
	ResultLen  uint32
}

// Response is a fully decoded reply from a worker.
type Response struct {
	Code         int32
	CodeString   string
	InfoString   string
	ResultString string
}

// EncodeRequest builds the body of a request frame (header + script bytes).
// A zero-length script encodes a ping: the worker must reply success with an
// empty result.
func EncodeRequest(script string) []byte {
	buf := make([]byte, RequestHeaderSize+len(script))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(script)))
	binary.BigEndian.PutUint16(buf[4:6], MajorVersion)
	binary.BigEndian.PutUint16(buf[6:8], MinorVersion)
	copy(buf[RequestHeaderSize:], script)
	return buf
}

// DecodeRequestHeader parses the fixed header from the start of a request
// frame body. It does not validate that buf is long enough to hold the
// script bytes; callers must slice those themselves once the header is
// known to be valid.
func DecodeRequestHeader(buf []byte) (RequestHeader, error) {
	if len(buf) < RequestHeaderSize {
		return RequestHeader{}, ErrShortHeader
	}
	h := RequestHeader{
		ScriptLen: binary.BigEndian.Uint32(buf[0:4]),
		Major:     binary.BigEndian.Uint16(buf[4:6]),
		Minor:     binary.BigEndian.Uint16(buf[6:8]),
	}
	if h.Major != MajorVersion || h.Minor != MinorVersion {
		return h, ErrVersionMismatch
	}
	return h, nil
}

// blobConvention controls whether a response blob's declared length includes
// its trailing NUL terminator. The source this protocol is modeled on is
// inconsistent between writer and reader; this implementation picks one
// convention and applies it uniformly in both directions (see DESIGN.md):
// a non-empty error-code or error-info blob is NUL-terminated and its
// declared length includes that terminator, while an empty one is sent as
// length 0 with no bytes; the result blob is not NUL-terminated and its
// length is the raw byte count.
const nulTerminatedAuxBlobs = true

func encodeAuxBlob(s string) []byte {
	if s == "" {
		return nil
	}
	if !nulTerminatedAuxBlobs {
		return []byte(s)
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

func decodeAuxBlob(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if nulTerminatedAuxBlobs && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// EncodeResponse builds the body of a response frame: header followed by the
// error-code, error-info, and result blobs, in that order.
func EncodeResponse(code int32, codeString, infoString, resultString string) []byte {
	codeBlob := encodeAuxBlob(codeString)
	infoBlob := encodeAuxBlob(infoString)
	resultBlob := []byte(resultString)

	buf := make([]byte, responseHeaderSize+len(codeBlob)+len(infoBlob)+len(resultBlob))
	binary.BigEndian.PutUint32(buf[0:4], uint32(code))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(codeBlob)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(infoBlob)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(resultBlob)))

	off := responseHeaderSize
	off += copy(buf[off:], codeBlob)
	off += copy(buf[off:], infoBlob)
	copy(buf[off:], resultBlob)
	return buf
}

// DecodeResponse parses a complete response frame body.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < responseHeaderSize {
		return Response{}, ErrShortHeader
	}
	h := ResponseHeader{
		Code:      int32(binary.BigEndian.Uint32(buf[0:4])),
		CodeLen:   binary.BigEndian.Uint32(buf[4:8]),
		InfoLen:   binary.BigEndian.Uint32(buf[8:12]),
		ResultLen: binary.BigEndian.Uint32(buf[12:16]),
	}

	want := responseHeaderSize + int(h.CodeLen) + int(h.InfoLen) + int(h.ResultLen)
	if len(buf) < want {
		return Response{}, fmt.Errorf("wire: response declares %d bytes of blobs, got %d: %w", want-responseHeaderSize, len(buf)-responseHeaderSize, ErrShortHeader)
	}

	off := responseHeaderSize
	codeBlob := buf[off : off+int(h.CodeLen)]
	off += int(h.CodeLen)
	infoBlob := buf[off : off+int(h.InfoLen)]
	off += int(h.InfoLen)
	resultBlob := buf[off : off+int(h.ResultLen)]

	return Response{
		Code:         h.Code,
		CodeString:   decodeAuxBlob(codeBlob),
		InfoString:   decodeAuxBlob(infoBlob),
		ResultString: string(resultBlob),
	}, nil
}

// WriteFrame writes a length-prefixed frame (4-byte big-endian length plus
// payload) to f, retrying partial writes and EINTR, and waiting for
// writability up to deadline. A zero deadline means no deadline (block
// until a write syscall succeeds or errors).
func WriteFrame(f *os.File, payload []byte, deadline time.Time) error {
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	fd := int(f.Fd())

	// Vectored write: length prefix and payload in one syscall when possible.
	iov := [][]byte{lenBuf[:], payload}
	return writevFull(fd, iov, deadline)
}

// ReadFrame reads one length-prefixed frame from f, waiting for readability
// up to deadline for each underlying read. A zero deadline means no
// deadline.
func ReadFrame(f *os.File, deadline time.Time) ([]byte, error) {
	fd := int(f.Fd())

	// The first read is vectored so a single syscall can pick up the length
	// prefix and as much of the body as has already arrived.
	var lenBuf [lengthPrefixSize]byte
	probe := make([]byte, 64*1024)
	n, err := readvProbe(fd, lenBuf[:], probe, deadline)
	if err != nil {
		return nil, err
	}
	if n < lengthPrefixSize {
		// Extremely short initial read (e.g. pipe delivered the length
		// prefix one byte at a time); fall back to reading the remainder of
		// the prefix directly.
		if err := readFull(fd, lenBuf[n:], deadline); err != nil {
			return nil, err
		}
		n = lengthPrefixSize
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, length)
	haveFromProbe := n - lengthPrefixSize
	if haveFromProbe > 0 {
		copy(body, probe[:haveFromProbe])
	}
	if uint32(haveFromProbe) < length {
		if err := readFull(fd, body[haveFromProbe:], deadline); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// pollFor waits for fd to become ready for events, honoring deadline. A zero
// deadline blocks indefinitely (poll timeout -1).
func pollFor(fd int, events int16, deadline time.Time) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		timeoutMs := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
			timeoutMs = int(remaining / time.Millisecond)
			if timeoutMs == 0 {
				timeoutMs = 1
			}
		}
		n, err := unix.Poll(pfd, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && pfd[0].Revents&events == 0 {
			return ErrClosed
		}
		return nil
	}
}

func readFull(fd int, buf []byte, deadline time.Time) error {
	read := 0
	for read < len(buf) {
		if err := pollFor(fd, unix.POLLIN, deadline); err != nil {
			return err
		}
		n, err := unix.Read(fd, buf[read:])
		if n > 0 {
			read += n
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrClosed
		}
	}
	return nil
}

// readvProbe performs a single vectored read attempt into lenBuf followed by
// probe, retrying only on EINTR/EAGAIN, and returns the total bytes placed
// across both buffers (lenBuf is always filled first).
func readvProbe(fd int, lenBuf, probe []byte, deadline time.Time) (int, error) {
	for {
		if err := pollFor(fd, unix.POLLIN, deadline); err != nil {
			return 0, err
		}
		iov := [][]byte{lenBuf, probe}
		n, err := unixReadv(fd, iov)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return 0, err
		}
		if n == 0 {
			return 0, ErrClosed
		}
		return n, nil
	}
}

// unixReadv wraps unix.Readv, building the Iovec slice from plain byte
// slices so callers never juggle unsafe.Pointer directly.
func unixReadv(fd int, bufs [][]byte) (int, error) {
	iovs := make([]unix.Iovec, 0, len(bufs))
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovs = append(iovs, unix.Iovec{Base: &b[0]})
		iovs[len(iovs)-1].SetLen(len(b))
	}
	if len(iovs) == 0 {
		return 0, nil
	}
	return unix.Readv(fd, iovs)
}

func writevFull(fd int, iov [][]byte, deadline time.Time) error {
	// Flatten small headers into the pending write set and track remaining
	// bytes per segment so a partial write can resume mid-segment.
	remaining := make([][]byte, 0, len(iov))
	for _, b := range iov {
		if len(b) > 0 {
			remaining = append(remaining, b)
		}
	}
	for len(remaining) > 0 {
		if err := pollFor(fd, unix.POLLOUT, deadline); err != nil {
			return err
		}
		uv := make([]unix.Iovec, len(remaining))
		for i, b := range remaining {
			uv[i] = unix.Iovec{Base: &b[0]}
			uv[i].SetLen(len(b))
		}
		n, err := unix.Writev(fd, uv)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return err
		}
		written := n
		for written > 0 && len(remaining) > 0 {
			if written < len(remaining[0]) {
				remaining[0] = remaining[0][written:]
				written = 0
			} else {
				written -= len(remaining[0])
				remaining = remaining[1:]
			}
		}
	}
	return nil
}

// DeadlineFromMillis converts a millisecond timeout (as used throughout the
// pool's configuration) into an absolute deadline. A zero or negative ms
// means "no deadline".
func DeadlineFromMillis(ms int) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

// WaitReadable blocks until f is readable or deadline passes. It is used by
// callers (the RPC engine) that need to distinguish "no reply yet" from
// "reply arrived" before committing to a ReadFrame call with a different
// deadline.
func WaitReadable(f *os.File, deadline time.Time) error {
	return pollFor(int(f.Fd()), unix.POLLIN, deadline)
}
