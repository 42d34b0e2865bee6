package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// InitialFrame is the client->conductor handshake frame laid out exactly
// as specified: magic, flags, pid, length-prefixed cwd, env fingerprint,
// then length-prefixed args.
type InitialFrame struct {
	TTY            bool
	PID            uint32
	CWD            string
	EnvFingerprint uint64
	Args           []string
}

// EncodeInitialFrame serialises f per the wire layout in the design doc.
func EncodeInitialFrame(f InitialFrame) ([]byte, error) {
	if !utf8.ValidString(f.CWD) {
		return nil, ErrInvalidUTF8
	}
	for _, a := range f.Args {
		if !utf8.ValidString(a) {
			return nil, ErrInvalidUTF8
		}
	}

	buf := make([]byte, 0, 32+len(f.CWD))
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], Magic)
	buf = append(buf, hdr[:]...)

	var flags byte
	if f.TTY {
		flags |= FlagTTY
	}
	buf = append(buf, flags, 0, 0, 0) // flags + 3 reserved bytes

	var pidBuf [4]byte
	binary.LittleEndian.PutUint32(pidBuf[:], f.PID)
	buf = append(buf, pidBuf[:]...)

	buf = appendLenString(buf, f.CWD)

	var fpBuf [8]byte
	binary.LittleEndian.PutUint64(fpBuf[:], f.EnvFingerprint)
	buf = append(buf, fpBuf[:]...)

	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(f.Args)))
	buf = append(buf, countBuf[:]...)
	for _, a := range f.Args {
		buf = appendLenString(buf, a)
	}
	return buf, nil
}

// DecodeInitialFrame parses the bytes written by EncodeInitialFrame.
// Round-tripping an InitialFrame through Encode then Decode yields an
// identical value, per the Round-trip framing invariant.
func DecodeInitialFrame(data []byte) (InitialFrame, error) {
	var f InitialFrame
	r := &byteReader{buf: data}

	magic, err := r.uint32()
	if err != nil {
		return f, err
	}
	if magic != Magic {
		return f, ErrBadMagic
	}

	flags, err := r.byte1()
	if err != nil {
		return f, err
	}
	f.TTY = flags&FlagTTY != 0
	if err := r.skip(3); err != nil {
		return f, err
	}

	pid, err := r.uint32()
	if err != nil {
		return f, err
	}
	f.PID = pid

	cwd, err := r.lenString()
	if err != nil {
		return f, err
	}
	f.CWD = cwd

	fp, err := r.uint64()
	if err != nil {
		return f, err
	}
	f.EnvFingerprint = fp

	count, err := r.uint16()
	if err != nil {
		return f, err
	}
	f.Args = make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		arg, err := r.lenString()
		if err != nil {
			return f, err
		}
		f.Args = append(f.Args, arg)
	}
	return f, nil
}

// WriteEnvPairs encodes the full environment the client sends in reply to
// a CacheMissByte: a u16 count followed by length-prefixed key/value
// pairs.
func WriteEnvPairs(w io.Writer, env []EnvPair) error {
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(env)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, pair := range env {
		if err := writeLenString(w, pair.Key); err != nil {
			return err
		}
		if err := writeLenString(w, pair.Value); err != nil {
			return err
		}
	}
	return nil
}

// ReadEnvPairs reads the payload written by WriteEnvPairs.
func ReadEnvPairs(r io.Reader) ([]EnvPair, error) {
	count, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	pairs := make([]EnvPair, 0, count)
	for i := 0; i < int(count); i++ {
		key, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		value, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, EnvPair{Key: key, Value: value})
	}
	return pairs, nil
}

// WriteSocketPathsReply writes the conductor->client reply: two
// length-prefixed strings, optionally preceded by CacheMissByte when
// cacheMiss is true.
func WriteSocketPathsReply(w io.Writer, cacheMiss bool, stdioPath, signalsPath string) error {
	if cacheMiss {
		if _, err := w.Write([]byte{CacheMissByte}); err != nil {
			return err
		}
	}
	if err := writeLenString(w, stdioPath); err != nil {
		return err
	}
	return writeLenString(w, signalsPath)
}

// ReadSocketPathsReply reads the reply written by WriteSocketPathsReply,
// returning whether the conductor reported a cache miss and the two
// socket paths. It implements the "peek one byte" disambiguation
// described in the design: if that byte equals CacheMissByte the caller
// has not yet read any part of the first length; otherwise the byte is
// the low byte of the first string's u16 length.
func ReadSocketPathsReply(r io.Reader) (cacheMiss bool, stdioPath, signalsPath string, err error) {
	var first [1]byte
	if _, err = io.ReadFull(r, first[:]); err != nil {
		return false, "", "", err
	}

	if first[0] == CacheMissByte {
		stdioPath, err = readLenString(r)
		if err != nil {
			return true, "", "", err
		}
		signalsPath, err = readLenString(r)
		return true, stdioPath, signalsPath, err
	}

	var second [1]byte
	if _, err = io.ReadFull(r, second[:]); err != nil {
		return false, "", "", err
	}
	length := uint16(first[0]) | uint16(second[0])<<8
	pathBytes := make([]byte, length)
	if _, err = io.ReadFull(r, pathBytes); err != nil {
		return false, "", "", err
	}
	if !utf8.Valid(pathBytes) {
		return false, "", "", ErrInvalidUTF8
	}
	stdioPath = string(pathBytes)
	signalsPath, err = readLenString(r)
	return false, stdioPath, signalsPath, err
}

// PeekHandshakeMarker reads the single byte that follows the initial
// frame, before the client has any socket paths. It exists because the
// real handshake has an env round-trip wedged between this byte and the
// eventual socket-paths reply (§4.1's cache-miss protocol): on a miss,
// the client must send its environment here and only afterwards receive
// paths, so the two phases can't be read by one ReadSocketPathsReply
// call the way WriteSocketPathsReply's self-contained callers do.
func PeekHandshakeMarker(r io.Reader) (cacheMiss bool, firstByte byte, err error) {
	var b [1]byte
	if _, err = io.ReadFull(r, b[:]); err != nil {
		return false, 0, err
	}
	return b[0] == CacheMissByte, b[0], nil
}

// ReadSocketPaths reads two plain length-prefixed strings with no
// leading cache-miss marker of any kind. It is the counterpart of a
// WriteSocketPathsReply(w, false, ...) call made independently of any
// PeekHandshakeMarker exchange (the env round-trip, if any, has already
// happened by the time this reply is written), so unlike
// ReadSocketPathsReply it never re-peeks the first byte for
// CacheMissByte — a path whose length's low byte happens to equal
// CacheMissByte would otherwise be misread as a marker.
func ReadSocketPaths(r io.Reader) (stdioPath, signalsPath string, err error) {
	stdioPath, err = readLenString(r)
	if err != nil {
		return "", "", err
	}
	signalsPath, err = readLenString(r)
	return stdioPath, signalsPath, err
}

// ReadSocketPathsAfterMarker completes the handshake begun by
// PeekHandshakeMarker: on a cache miss the marker byte was pure
// signalling and both path lengths are read fresh; on a hit, firstByte
// was already the low byte of stdioPath's length.
func ReadSocketPathsAfterMarker(r io.Reader, cacheMiss bool, firstByte byte) (stdioPath, signalsPath string, err error) {
	if cacheMiss {
		return ReadSocketPaths(r)
	}

	var second [1]byte
	if _, err = io.ReadFull(r, second[:]); err != nil {
		return "", "", err
	}
	length := uint16(firstByte) | uint16(second[0])<<8
	pathBytes := make([]byte, length)
	if _, err = io.ReadFull(r, pathBytes); err != nil {
		return "", "", err
	}
	if !utf8.Valid(pathBytes) {
		return "", "", ErrInvalidUTF8
	}
	stdioPath = string(pathBytes)
	signalsPath, err = readLenString(r)
	return stdioPath, signalsPath, err
}

// --- shared byte-level helpers -------------------------------------------------

func appendLenString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func writeLenString(w io.Writer, s string) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readLenString(r io.Reader) (string, error) {
	length, err := readUint16(r)
	if err != nil {
		return "", err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// byteReader is a minimal cursor over an in-memory frame, used by
// DecodeInitialFrame so truncation surfaces as ErrTruncated rather than
// an index panic.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrTruncated
	}
	return nil
}

func (r *byteReader) skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

func (r *byteReader) byte1() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) lenString() (string, error) {
	length, err := r.uint16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(length)); err != nil {
		return "", err
	}
	data := r.buf[r.pos : r.pos+int(length)]
	r.pos += int(length)
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// ReadInitialFrame reads one InitialFrame directly off a stream (a
// freshly accepted connection has no length prefix to frame on, unlike
// DecodeInitialFrame's in-memory byteReader), field by field in wire
// order.
func ReadInitialFrame(r io.Reader) (InitialFrame, error) {
	var f InitialFrame

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return f, err
	}
	if binary.LittleEndian.Uint32(hdr[:]) != Magic {
		return f, ErrBadMagic
	}

	var flagsAndReserved [4]byte
	if _, err := io.ReadFull(r, flagsAndReserved[:]); err != nil {
		return f, err
	}
	f.TTY = flagsAndReserved[0]&FlagTTY != 0

	var pidBuf [4]byte
	if _, err := io.ReadFull(r, pidBuf[:]); err != nil {
		return f, err
	}
	f.PID = binary.LittleEndian.Uint32(pidBuf[:])

	cwd, err := readLenString(r)
	if err != nil {
		return f, err
	}
	f.CWD = cwd

	var fpBuf [8]byte
	if _, err := io.ReadFull(r, fpBuf[:]); err != nil {
		return f, err
	}
	f.EnvFingerprint = binary.LittleEndian.Uint64(fpBuf[:])

	count, err := readUint16(r)
	if err != nil {
		return f, err
	}
	f.Args = make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		arg, err := readLenString(r)
		if err != nil {
			return f, err
		}
		f.Args = append(f.Args, arg)
	}
	return f, nil
}

// DescribeFrame is a small debugging helper used by conductor logging.
func DescribeFrame(f InitialFrame) string {
	return fmt.Sprintf("pid=%d tty=%v cwd=%q fp=%#x args=%d", f.PID, f.TTY, f.CWD, f.EnvFingerprint, len(f.Args))
}
