// Package protocol implements the client/conductor wire framing described
// in the design: a fixed binary header, length-prefixed fields, and an
// environment-fingerprint cache handshake that avoids re-sending the
// client's environment on every invocation.
package protocol

import "errors"

// Magic identifies the initial client->conductor frame ("JDC\x01").
const Magic uint32 = 0x4A444301

// CacheMissByte is sent by the conductor ahead of the socket-paths reply
// when the fingerprint in the initial frame is not present in its
// EnvCache. Any other leading byte is the low byte of the first reply
// string's u16 length.
const CacheMissByte byte = 0x3F

// Flag bits carried in byte offset 4 of the initial frame.
const (
	FlagTTY byte = 1 << 0
)

// Signal frame delimiters: SOH name STX data EOT.
const (
	SOH byte = 0x01
	STX byte = 0x02
	EOT byte = 0x04
)

// SignalBufferCap bounds the client's signal-parser reassembly buffer.
const SignalBufferCap = 1024

var (
	// ErrBadMagic is returned when a frame does not start with Magic.
	ErrBadMagic = errors.New("protocol: bad magic")
	// ErrTruncated is returned when a frame ends before a declared field
	// has been fully read.
	ErrTruncated = errors.New("protocol: truncated frame")
	// ErrInvalidUTF8 is returned when a string field is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("protocol: invalid utf-8")
	// ErrMalformedSignal is returned by the signal parser on a frame that
	// cannot be a well-formed SOH/STX/EOT sequence.
	ErrMalformedSignal = errors.New("protocol: malformed signal frame")
	// ErrUnknownSignal is returned for a recognised frame shape whose name
	// is not one this package understands.
	ErrUnknownSignal = errors.New("protocol: unknown signal name")
)

// Switch names, canonicalised from their short forms.
const (
	SwitchEval        = "eval"
	SwitchPrint       = "print"
	SwitchLoad        = "load"
	SwitchProject     = "project"
	SwitchInteractive = "i"
	SwitchBanner      = "banner"
	SwitchColor       = "color"
	SwitchHistoryFile = "history-file"
	SwitchQuiet       = "quiet"
	SwitchVersion     = "version"
	SwitchHelp        = "help"
	SwitchRestart     = "restart"
)

// SignalExit is the only signal-frame name the spec requires both sides to
// recognise; everything else is logged as an error.
const SignalExit = "exit"
