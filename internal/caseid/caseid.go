// Package caseid models Federal Court immigration docket numbers of the
// form IMM-<number>-<year>.
package caseid

import (
	"fmt"
	"regexp"
	"strconv"
)

var pattern = regexp.MustCompile(`^IMM-(\d+)-(\d{2})$`)

// ID is an immutable docket identifier. Ordering is by Number within a
// fixed Year partition.
type ID struct {
	Year   string
	Number int
}

// New builds an ID, validating the year partition and number.
func New(year string, number int) (ID, error) {
	if len(year) != 2 {
		return ID{}, fmt.Errorf("year must be a 2-digit string, got %q", year)
	}
	for _, r := range year {
		if r < '0' || r > '9' {
			return ID{}, fmt.Errorf("year must be a 2-digit string, got %q", year)
		}
	}
	if number < 0 {
		return ID{}, fmt.Errorf("case number must be >= 0, got %d", number)
	}
	return ID{Year: year, Number: number}, nil
}

// Parse converts the canonical string form back into an ID.
func Parse(s string) (ID, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return ID{}, fmt.Errorf("malformed case identifier %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return ID{}, fmt.Errorf("parse case number in %q: %w", s, err)
	}
	return ID{Year: m[2], Number: n}, nil
}

// String renders the canonical IMM-<number>-<year> form.
func (id ID) String() string {
	return fmt.Sprintf("IMM-%d-%s", id.Number, id.Year)
}

// Next returns the identifier that follows this one in the year partition.
func (id ID) Next() ID {
	return ID{Year: id.Year, Number: id.Number + 1}
}

// Plus returns the identifier step positions ahead.
func (id ID) Plus(step int) ID {
	return ID{Year: id.Year, Number: id.Number + step}
}

// Less reports whether id sorts before other. Identifiers from different
// year partitions are not comparable and Less returns false for them.
func (id ID) Less(other ID) bool {
	if id.Year != other.Year {
		return false
	}
	return id.Number < other.Number
}
