// Package deviceid implements the project code and composite device identifier grammar.
//
// Project codes are PROJ1..PROJ999 followed by P1000..P9999. A composite device
// identifier is a project code, the literal "-ESP" and a slot number in 1..20.
// Devices created before composite identifiers existed are known by a bare UUID.
package deviceid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// MinSlot and MaxSlot bound the fixed slots of a project.
	MinSlot = 1
	MaxSlot = 20

	// MaxProjectCode is the last value of the project code sequence.
	MaxProjectCode = 9999

	shortCodeLimit = 999
	slotSeparator  = "-ESP"
)

var (
	ErrMalformed       = errors.New("malformed identifier")
	ErrCodeOutOfRange  = errors.New("project code sequence value out of range")
	ErrSlotOutOfRange  = fmt.Errorf("slot must be between %d and %d", MinSlot, MaxSlot)
	projectCodePattern = `(PROJ[1-9][0-9]{0,2}|P[1-9][0-9]{3})`
	projectCodeRegex   = regexp.MustCompile(`^` + projectCodePattern + `$`)
	compositeRegex     = regexp.MustCompile(`^` + projectCodePattern + `-ESP([1-9]|1[0-9]|20)$`)
)

// FormatProjectCode renders the n-th value of the project code sequence.
func FormatProjectCode(n int64) (string, error) {
	switch {
	case n < 1 || n > MaxProjectCode:
		return "", fmt.Errorf("%w: %d", ErrCodeOutOfRange, n)
	case n <= shortCodeLimit:
		return fmt.Sprintf("PROJ%d", n), nil
	default:
		return fmt.Sprintf("P%d", n), nil
	}
}

// ParseProjectCode returns the sequence value a project code was rendered from.
func ParseProjectCode(code string) (int64, error) {
	if !projectCodeRegex.MatchString(code) {
		return 0, ErrMalformed
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(code, "PROJ"), "P")
	return strconv.ParseInt(digits, 10, 64)
}

// ValidProjectCode reports whether code matches the project code grammar.
func ValidProjectCode(code string) bool {
	return projectCodeRegex.MatchString(code)
}

// ValidSlot reports whether slot is one of the fixed project slots.
func ValidSlot(slot int) bool {
	return slot >= MinSlot && slot <= MaxSlot
}

// FormatComposite joins a project code and a slot into a composite device identifier.
func FormatComposite(code string, slot int) (string, error) {
	if !ValidProjectCode(code) {
		return "", ErrMalformed
	}
	if !ValidSlot(slot) {
		return "", ErrSlotOutOfRange
	}
	return code + slotSeparator + strconv.Itoa(slot), nil
}

// ParseComposite splits a composite device identifier into its project code and slot.
func ParseComposite(id string) (code string, slot int, err error) {
	m := compositeRegex.FindStringSubmatch(id)
	if m == nil {
		return "", 0, ErrMalformed
	}
	slot, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, ErrMalformed
	}
	return m[1], slot, nil
}

type Kind int

const (
	KindComposite Kind = iota + 1
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindComposite:
		return "composite"
	case KindLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Identifier is a parsed device identifier of either scheme.
type Identifier struct {
	Kind Kind
	// Value is the canonical text: the composite id, or the lower case UUID for legacy devices.
	Value       string
	ProjectCode string
	Slot        int
}

func (i Identifier) String() string {
	return i.Value
}

// Parse recognizes a device identifier. The composite grammar is tried first.
// Legacy identifiers are only accepted when allowLegacy is set.
func Parse(raw string, allowLegacy bool) (Identifier, error) {
	if code, slot, err := ParseComposite(raw); err == nil {
		return Identifier{
			Kind:        KindComposite,
			Value:       raw,
			ProjectCode: code,
			Slot:        slot,
		}, nil
	}
	if allowLegacy {
		// uuid.Parse also accepts urn and braced forms, devices only ever send the plain 36 char form.
		if len(raw) == 36 {
			if u, err := uuid.Parse(raw); err == nil {
				return Identifier{
					Kind:  KindLegacy,
					Value: u.String(),
				}, nil
			}
		}
	}
	return Identifier{}, ErrMalformed
}
