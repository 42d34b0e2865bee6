package protocol

import "strings"

// switchKind describes how a recognised switch consumes its value.
type switchKind int

const (
	flagSwitch     switchKind = iota // no value, e.g. -i
	inlineSwitch                     // --name or --name=value, value optional
	nextArgSwitch                    // --name VALUE, value is the following token
	flexibleSwitch                   // --name=value or --name VALUE
)

type switchSpec struct {
	canonical string
	kind      switchKind
}

// switchTable maps every recognised spelling (long and short) to its
// canonical name and value-consumption rule. Short forms -e/-E/-L
// canonicalise to --eval/--print/--load per the spec.
var switchTable = map[string]switchSpec{
	"-e":             {SwitchEval, nextArgSwitch},
	"--eval":         {SwitchEval, nextArgSwitch},
	"-E":             {SwitchPrint, nextArgSwitch},
	"--print":        {SwitchPrint, nextArgSwitch},
	"-L":             {SwitchLoad, nextArgSwitch},
	"--load":         {SwitchLoad, nextArgSwitch},
	"--project":      {SwitchProject, flexibleSwitch},
	"-i":             {SwitchInteractive, flagSwitch},
	"--banner":       {SwitchBanner, inlineSwitch},
	"--color":        {SwitchColor, inlineSwitch},
	"--history-file": {SwitchHistoryFile, inlineSwitch},
	"-q":             {SwitchQuiet, flagSwitch},
	"--quiet":        {SwitchQuiet, flagSwitch},
	"-v":             {SwitchVersion, flagSwitch},
	"--version":      {SwitchVersion, flagSwitch},
	"-h":             {SwitchHelp, flagSwitch},
	"--help":         {SwitchHelp, flagSwitch},
	"--restart":      {SwitchRestart, flagSwitch},
}

// ParseSwitches extracts switches, the program file, and the program's
// own arguments from a raw argument list, per the Switches data-model
// entry in the spec: short forms canonicalise, a bare "--" terminates
// switch parsing, and a switch missing its value yields an empty string.
//
// It returns the populated fields to merge into a ClientInfo; it does not
// mutate its input.
func ParseSwitches(args []string) (switches []Switch, programFile string, hasProgramFile bool, programArgs []string) {
	i := 0
	for i < len(args) {
		tok := args[i]
		if tok == "--" {
			i++
			break
		}

		name, inlineValue, hasInline := splitInline(tok)
		spec, known := switchTable[name]
		if !known {
			// Unrecognised tokens before "--" are not switches in this
			// grammar; stop switch parsing and treat as the program.
			break
		}

		switch spec.kind {
		case flagSwitch:
			switches = append(switches, Switch{Name: spec.canonical})
			i++
		case inlineSwitch:
			value := ""
			if hasInline {
				value = inlineValue
			}
			switches = append(switches, Switch{Name: spec.canonical, Value: value})
			i++
		case nextArgSwitch:
			value := ""
			if hasInline {
				value = inlineValue
				i++
			} else if i+1 < len(args) {
				value = args[i+1]
				i += 2
			} else {
				i++
			}
			switches = append(switches, Switch{Name: spec.canonical, Value: value})
		case flexibleSwitch:
			value := ""
			if hasInline {
				value = inlineValue
				i++
			} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				value = args[i+1]
				i += 2
			} else {
				i++
			}
			switches = append(switches, Switch{Name: spec.canonical, Value: value})
		}
	}

	if i < len(args) {
		programFile = args[i]
		hasProgramFile = true
		i++
	}
	if i < len(args) {
		programArgs = append(programArgs, args[i:]...)
	}
	return switches, programFile, hasProgramFile, programArgs
}

// splitInline splits "--name=value" into ("--name", "value", true); any
// token without "=" is returned unchanged with hasInline false.
func splitInline(tok string) (name, value string, hasInline bool) {
	if idx := strings.IndexByte(tok, '='); idx >= 0 && strings.HasPrefix(tok, "-") {
		return tok[:idx], tok[idx+1:], true
	}
	return tok, "", false
}
