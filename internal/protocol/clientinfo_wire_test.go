package protocol

import "testing"

func TestClientInfoWire_RoundTrip(t *testing.T) {
	want := ClientInfo{
		TTY:            true,
		PID:            4242,
		CWD:            "/home/user/project",
		EnvFingerprint: 0xDEADBEEFCAFEF00D,
		Env: []EnvPair{
			{Key: "PATH", Value: "/usr/bin"},
			{Key: "HOME", Value: "/home/user"},
		},
		Args: []string{"foo.jl", "bar"},
		Switches: []Switch{
			{Name: SwitchEval, Value: "1+1"},
			{Name: SwitchQuiet},
		},
		ProgramFile:    "foo.jl",
		HasProgramFile: true,
	}

	got, err := DecodeClientInfo(EncodeClientInfo(want))
	if err != nil {
		t.Fatalf("DecodeClientInfo: %v", err)
	}

	if got.TTY != want.TTY || got.PID != want.PID || got.CWD != want.CWD ||
		got.EnvFingerprint != want.EnvFingerprint || got.ProgramFile != want.ProgramFile ||
		got.HasProgramFile != want.HasProgramFile {
		t.Fatalf("DecodeClientInfo() = %+v, want %+v", got, want)
	}
	if len(got.Env) != len(want.Env) {
		t.Fatalf("Env length = %d, want %d", len(got.Env), len(want.Env))
	}
	for i := range want.Env {
		if got.Env[i] != want.Env[i] {
			t.Errorf("Env[%d] = %+v, want %+v", i, got.Env[i], want.Env[i])
		}
	}
	if len(got.Args) != len(want.Args) {
		t.Fatalf("Args length = %d, want %d", len(got.Args), len(want.Args))
	}
	for i := range want.Args {
		if got.Args[i] != want.Args[i] {
			t.Errorf("Args[%d] = %q, want %q", i, got.Args[i], want.Args[i])
		}
	}
	if len(got.Switches) != len(want.Switches) {
		t.Fatalf("Switches length = %d, want %d", len(got.Switches), len(want.Switches))
	}
	for i := range want.Switches {
		if got.Switches[i] != want.Switches[i] {
			t.Errorf("Switches[%d] = %+v, want %+v", i, got.Switches[i], want.Switches[i])
		}
	}
}

func TestClientInfoWire_EmptyFields(t *testing.T) {
	want := ClientInfo{}
	got, err := DecodeClientInfo(EncodeClientInfo(want))
	if err != nil {
		t.Fatalf("DecodeClientInfo: %v", err)
	}
	if got.TTY || got.PID != 0 || got.CWD != "" || len(got.Env) != 0 || len(got.Args) != 0 || len(got.Switches) != 0 {
		t.Errorf("DecodeClientInfo() = %+v, want zero value", got)
	}
}

func TestDecodeClientInfo_Truncated(t *testing.T) {
	full := EncodeClientInfo(ClientInfo{CWD: "/tmp"})
	if _, err := DecodeClientInfo(full[:len(full)-2]); err == nil {
		t.Error("expected error decoding truncated ClientInfo")
	}
}
