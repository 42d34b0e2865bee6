package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeClientInfo serialises a fully-resolved ClientInfo for transport
// across the conductor->worker control connection (the payload of a
// ctrlproto TagClient message). This is distinct from EncodeInitialFrame:
// the initial frame is the client's raw handshake; this carries the
// conductor's fully-resolved view (env expanded via the cache, switches
// already parsed) that the worker needs to build a session namespace.
func EncodeClientInfo(c ClientInfo) []byte {
	buf := &bytes.Buffer{}

	var flags byte
	if c.TTY {
		flags = 1
	}
	buf.WriteByte(flags)

	var pidBuf [4]byte
	binary.LittleEndian.PutUint32(pidBuf[:], c.PID)
	buf.Write(pidBuf[:])

	writeBufLenString(buf, c.CWD)

	var fpBuf [8]byte
	binary.LittleEndian.PutUint64(fpBuf[:], c.EnvFingerprint)
	buf.Write(fpBuf[:])

	writeBufUint16(buf, uint16(len(c.Env)))
	for _, pair := range c.Env {
		writeBufLenString(buf, pair.Key)
		writeBufLenString(buf, pair.Value)
	}

	writeBufUint16(buf, uint16(len(c.Args)))
	for _, a := range c.Args {
		writeBufLenString(buf, a)
	}

	writeBufUint16(buf, uint16(len(c.Switches)))
	for _, s := range c.Switches {
		writeBufLenString(buf, s.Name)
		writeBufLenString(buf, s.Value)
	}

	var hasFile byte
	if c.HasProgramFile {
		hasFile = 1
	}
	buf.WriteByte(hasFile)
	writeBufLenString(buf, c.ProgramFile)

	return buf.Bytes()
}

// DecodeClientInfo reverses EncodeClientInfo.
func DecodeClientInfo(data []byte) (ClientInfo, error) {
	r := &byteReader{buf: data}

	flagByte, err := r.byte1()
	if err != nil {
		return ClientInfo{}, err
	}
	pid, err := r.uint32()
	if err != nil {
		return ClientInfo{}, err
	}
	cwd, err := r.lenString()
	if err != nil {
		return ClientInfo{}, err
	}
	fingerprint, err := r.uint64()
	if err != nil {
		return ClientInfo{}, err
	}

	envCount, err := r.uint16()
	if err != nil {
		return ClientInfo{}, err
	}
	env := make([]EnvPair, 0, envCount)
	for i := 0; i < int(envCount); i++ {
		key, err := r.lenString()
		if err != nil {
			return ClientInfo{}, err
		}
		value, err := r.lenString()
		if err != nil {
			return ClientInfo{}, err
		}
		env = append(env, EnvPair{Key: key, Value: value})
	}

	argCount, err := r.uint16()
	if err != nil {
		return ClientInfo{}, err
	}
	args := make([]string, 0, argCount)
	for i := 0; i < int(argCount); i++ {
		a, err := r.lenString()
		if err != nil {
			return ClientInfo{}, err
		}
		args = append(args, a)
	}

	switchCount, err := r.uint16()
	if err != nil {
		return ClientInfo{}, err
	}
	switches := make([]Switch, 0, switchCount)
	for i := 0; i < int(switchCount); i++ {
		name, err := r.lenString()
		if err != nil {
			return ClientInfo{}, err
		}
		value, err := r.lenString()
		if err != nil {
			return ClientInfo{}, err
		}
		switches = append(switches, Switch{Name: name, Value: value})
	}

	hasFile, err := r.byte1()
	if err != nil {
		return ClientInfo{}, err
	}
	programFile, err := r.lenString()
	if err != nil {
		return ClientInfo{}, err
	}

	return ClientInfo{
		TTY:            flagByte&1 != 0,
		PID:            pid,
		CWD:            cwd,
		EnvFingerprint: fingerprint,
		Env:            env,
		Args:           args,
		Switches:       switches,
		ProgramFile:    programFile,
		HasProgramFile: hasFile != 0,
	}, nil
}

func writeBufUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeBufLenString(buf *bytes.Buffer, s string) {
	if len(s) > 0xFFFF {
		panic(fmt.Sprintf("protocol: string too long to encode: %d bytes", len(s)))
	}
	writeBufUint16(buf, uint16(len(s)))
	buf.WriteString(s)
}
