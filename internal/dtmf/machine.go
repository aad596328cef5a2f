package dtmf

import (
	"fmt"
	"strings"
)

// Mode selects how the machine interprets incoming keypad digits.
type Mode string

const (
	ModeLanguageSwitch Mode = "language_switch"
	ModePhoneNumber    Mode = "phone_number"
	ModeDateOfBirth    Mode = "date_of_birth"
	ModeConfirmation   Mode = "confirmation"
	ModeMenuSelection  Mode = "menu_selection"
)

// ResultKind classifies the outcome of feeding one digit.
type ResultKind int

const (
	// ResultPending means more digits are expected.
	ResultPending ResultKind = iota
	// ResultComplete carries a formatted value.
	ResultComplete
	// ResultOverflow is a terminal error completion with no usable value,
	// distinct from a valid completion so the caller can reprompt deliberately.
	ResultOverflow
)

// Result describes the machine state after one digit.
type Result struct {
	Kind     ResultKind
	Mode     Mode
	Value    string
	Received int
	Expected int
}

type modeSpec struct {
	expected int               // 0 means single-digit-immediate
	meanings map[string]string // single-digit modes only
}

var modeSpecs = map[Mode]modeSpec{
	ModePhoneNumber: {expected: 10},
	ModeDateOfBirth: {expected: 8},
	ModeLanguageSwitch: {meanings: map[string]string{
		"1": "primary",
		"2": "secondary",
	}},
	ModeConfirmation: {meanings: map[string]string{
		"1": "yes",
		"2": "no",
	}},
	ModeMenuSelection: {meanings: map[string]string{
		"0": "0", "1": "1", "2": "2", "3": "3", "4": "4",
		"5": "5", "6": "6", "7": "7", "8": "8", "9": "9",
	}},
}

// ValidMode reports whether m names a known input mode.
func ValidMode(m Mode) bool {
	_, ok := modeSpecs[m]
	return ok
}

// Machine accumulates keypad digits into typed results per an input mode.
// Not safe for concurrent use; the owning session serializes access.
type Machine struct {
	baseMode Mode
	mode     Mode
	expected int
	buffer   []string
	done     bool
}

// NewMachine builds a machine starting in (and resetting to) baseMode.
func NewMachine(baseMode Mode) (*Machine, error) {
	if !ValidMode(baseMode) {
		return nil, fmt.Errorf("unknown dtmf mode %q", baseMode)
	}
	m := &Machine{baseMode: baseMode}
	m.Reset()
	return m, nil
}

// Mode returns the current input mode.
func (m *Machine) Mode() Mode { return m.mode }

// BufferLen returns how many digits are currently accumulated.
func (m *Machine) BufferLen() int { return len(m.buffer) }

// SetMode switches the input mode, clearing the buffer and completion flag.
// expectedOverride > 0 replaces the mode's default accumulate length.
func (m *Machine) SetMode(mode Mode, expectedOverride int) error {
	spec, ok := modeSpecs[mode]
	if !ok {
		return fmt.Errorf("unknown dtmf mode %q", mode)
	}
	m.mode = mode
	m.expected = spec.expected
	if expectedOverride > 0 && spec.expected > 0 {
		m.expected = expectedOverride
	}
	m.buffer = m.buffer[:0]
	m.done = false
	return nil
}

// Reset returns the machine to its configured base mode with an empty buffer.
func (m *Machine) Reset() {
	_ = m.SetMode(m.baseMode, 0)
}

// ProcessDigit feeds one keypad character and reports the resulting state.
// A digit arriving after a terminal completion, or one digit beyond the
// expected length, produces ResultOverflow with a cleared buffer.
func (m *Machine) ProcessDigit(digit string) Result {
	if m.done {
		m.buffer = m.buffer[:0]
		return m.result(ResultOverflow, "")
	}

	spec := modeSpecs[m.mode]
	if m.expected == 0 {
		meaning, ok := spec.meanings[digit]
		m.done = true
		m.buffer = m.buffer[:0]
		if !ok {
			return m.result(ResultOverflow, "")
		}
		return m.result(ResultComplete, meaning)
	}

	m.buffer = append(m.buffer, digit)
	switch {
	case len(m.buffer) < m.expected:
		return m.result(ResultPending, "")
	case len(m.buffer) == m.expected:
		value, err := m.format()
		m.done = true
		m.buffer = m.buffer[:0]
		if err != nil {
			return m.result(ResultOverflow, "")
		}
		return m.result(ResultComplete, value)
	default:
		m.done = true
		m.buffer = m.buffer[:0]
		return m.result(ResultOverflow, "")
	}
}

func (m *Machine) result(kind ResultKind, value string) Result {
	return Result{
		Kind:     kind,
		Mode:     m.mode,
		Value:    value,
		Received: len(m.buffer),
		Expected: m.expected,
	}
}

func (m *Machine) format() (string, error) {
	digits := strings.Join(m.buffer, "")
	if strings.ContainsAny(digits, "*#") {
		return "", fmt.Errorf("non-numeric digits in %s entry", m.mode)
	}
	switch m.mode {
	case ModePhoneNumber:
		if len(digits) != 10 {
			return digits, nil
		}
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:]), nil
	case ModeDateOfBirth:
		if len(digits) != 8 {
			return digits, nil
		}
		return fmt.Sprintf("%s/%s/%s", digits[:2], digits[2:4], digits[4:]), nil
	default:
		return digits, nil
	}
}
