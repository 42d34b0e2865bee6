package protocol

import (
	"bytes"
	"reflect"
	"testing"
)

func TestInitialFrame_RoundTrip(t *testing.T) {
	want := InitialFrame{
		TTY:            true,
		PID:            9001,
		CWD:            "/home/user/proj",
		EnvFingerprint: 0x1122334455667788,
		Args:           []string{"-e", "1+1", "--project=/p1"},
	}

	encoded, err := EncodeInitialFrame(want)
	if err != nil {
		t.Fatalf("EncodeInitialFrame: %v", err)
	}
	got, err := DecodeInitialFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeInitialFrame: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round-trip = %+v, want %+v", got, want)
	}
}

func TestInitialFrame_RejectsInvalidUTF8(t *testing.T) {
	_, err := EncodeInitialFrame(InitialFrame{CWD: string([]byte{0xff, 0xfe})})
	if err != ErrInvalidUTF8 {
		t.Errorf("EncodeInitialFrame error = %v, want ErrInvalidUTF8", err)
	}
}

func TestDecodeInitialFrame_BadMagic(t *testing.T) {
	bad := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	_, err := DecodeInitialFrame(bad)
	if err != ErrBadMagic {
		t.Errorf("DecodeInitialFrame error = %v, want ErrBadMagic", err)
	}
}

func TestDecodeInitialFrame_Truncated(t *testing.T) {
	full, err := EncodeInitialFrame(InitialFrame{CWD: "/tmp", Args: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecodeInitialFrame(full[:len(full)-1])
	if err != ErrTruncated {
		t.Errorf("DecodeInitialFrame error = %v, want ErrTruncated", err)
	}
}

func TestReadInitialFrame_MatchesDecode(t *testing.T) {
	want := InitialFrame{TTY: true, PID: 55, CWD: "/a/b", EnvFingerprint: 9, Args: []string{"-i"}}
	encoded, err := EncodeInitialFrame(want)
	if err != nil {
		t.Fatalf("EncodeInitialFrame: %v", err)
	}
	got, err := ReadInitialFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("ReadInitialFrame: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadInitialFrame() = %+v, want %+v", got, want)
	}
}

func TestEnvPairs_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := []EnvPair{{Key: "PATH", Value: "/bin"}, {Key: "HOME", Value: "/home/u"}}
	if err := WriteEnvPairs(&buf, want); err != nil {
		t.Fatalf("WriteEnvPairs: %v", err)
	}
	got, err := ReadEnvPairs(&buf)
	if err != nil {
		t.Fatalf("ReadEnvPairs: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadEnvPairs() = %+v, want %+v", got, want)
	}
}

func TestHandshakeMarker_CacheMissRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(CacheMissByte)
	if err := writeLenString(&buf, "/tmp/stdio.sock"); err != nil {
		t.Fatal(err)
	}
	if err := writeLenString(&buf, "/tmp/signals.sock"); err != nil {
		t.Fatal(err)
	}

	isMiss, first, err := PeekHandshakeMarker(&buf)
	if err != nil {
		t.Fatalf("PeekHandshakeMarker: %v", err)
	}
	if !isMiss {
		t.Fatal("expected cache-miss marker")
	}
	stdio, signals, err := ReadSocketPathsAfterMarker(&buf, isMiss, first)
	if err != nil {
		t.Fatalf("ReadSocketPathsAfterMarker: %v", err)
	}
	if stdio != "/tmp/stdio.sock" || signals != "/tmp/signals.sock" {
		t.Errorf("got (%q, %q)", stdio, signals)
	}
}

func TestHandshakeMarker_CacheHitRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeLenString(&buf, "/tmp/stdio.sock"); err != nil {
		t.Fatal(err)
	}
	if err := writeLenString(&buf, "/tmp/signals.sock"); err != nil {
		t.Fatal(err)
	}

	isMiss, first, err := PeekHandshakeMarker(&buf)
	if err != nil {
		t.Fatalf("PeekHandshakeMarker: %v", err)
	}
	if isMiss {
		t.Fatal("expected cache-hit (no marker)")
	}
	stdio, signals, err := ReadSocketPathsAfterMarker(&buf, isMiss, first)
	if err != nil {
		t.Fatalf("ReadSocketPathsAfterMarker: %v", err)
	}
	if stdio != "/tmp/stdio.sock" || signals != "/tmp/signals.sock" {
		t.Errorf("got (%q, %q)", stdio, signals)
	}
}

func TestSocketPathsReply_CacheMiss(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSocketPathsReply(&buf, true, "/tmp/stdio.sock", "/tmp/signals.sock"); err != nil {
		t.Fatalf("WriteSocketPathsReply: %v", err)
	}
	cacheMiss, stdio, signals, err := ReadSocketPathsReply(&buf)
	if err != nil {
		t.Fatalf("ReadSocketPathsReply: %v", err)
	}
	if !cacheMiss || stdio != "/tmp/stdio.sock" || signals != "/tmp/signals.sock" {
		t.Errorf("ReadSocketPathsReply() = (%v, %q, %q), want (true, /tmp/stdio.sock, /tmp/signals.sock)", cacheMiss, stdio, signals)
	}
}

func TestSocketPathsReply_CacheHit(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSocketPathsReply(&buf, false, "/tmp/stdio.sock", "/tmp/signals.sock"); err != nil {
		t.Fatalf("WriteSocketPathsReply: %v", err)
	}
	cacheMiss, stdio, signals, err := ReadSocketPathsReply(&buf)
	if err != nil {
		t.Fatalf("ReadSocketPathsReply: %v", err)
	}
	if cacheMiss || stdio != "/tmp/stdio.sock" || signals != "/tmp/signals.sock" {
		t.Errorf("ReadSocketPathsReply() = (%v, %q, %q), want (false, /tmp/stdio.sock, /tmp/signals.sock)", cacheMiss, stdio, signals)
	}
}
