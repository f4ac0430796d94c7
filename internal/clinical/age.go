// Package clinical holds the small pure helpers used while accepting a
// patient submission: age arithmetic and upload file name checks.
package clinical

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the only accepted date of birth format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// ErrInvalidDOB is returned when a date of birth does not parse.
var ErrInvalidDOB = errors.New("invalid date of birth")

// CalculateAge returns the number of whole years between dob and now. A
// birthday that has not yet been reached in now's calendar year does not
// count.
func CalculateAge(dob string, now time.Time) (int, error) {
	birth, err := time.Parse(DateLayout, dob)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidDOB, dob, err)
	}
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age, nil
}
