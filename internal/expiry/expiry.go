package expiry

import (
	"fmt"
	"strconv"
	"time"
)

var defaultLoc = time.UTC

// SetDefaultLocation sets the time location used for expiry calculations (fallback UTC).
func SetDefaultLocation(loc *time.Location) {
	if loc != nil {
		defaultLoc = loc
	}
}

// ValidateMMYY checks the card-face form "MM/YY" with month in 01..12.
func ValidateMMYY(in string) error {
	if len(in) != 5 || in[2] != '/' {
		return fmt.Errorf("expiration must be MM/YY")
	}
	for _, i := range []int{0, 1, 3, 4} {
		if in[i] < '0' || in[i] > '9' {
			return fmt.Errorf("expiration must be digits: MM/YY")
		}
	}
	mm := int(in[0]-'0')*10 + int(in[1]-'0')
	if mm < 1 || mm > 12 {
		return fmt.Errorf("expiration month must be 01..12")
	}
	return nil
}

// ParseEndOfMonth parses MM/YY into the last instant of that month in loc.
func ParseEndOfMonth(mmyy string, loc *time.Location) (time.Time, error) {
	if err := ValidateMMYY(mmyy); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = defaultLoc
	}
	mm, _ := strconv.Atoi(mmyy[:2])
	yy, _ := strconv.Atoi(mmyy[3:])
	year := 2000 + yy
	// First day of next month, minus 1ns.
	firstNext := time.Date(year, time.Month(mm), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	return firstNext.Add(-time.Nanosecond), nil
}

// IsExpired reports whether 'at' is strictly after the end of the MM/YY month in loc.
func IsExpired(mmyy string, at time.Time, loc *time.Location) (bool, error) {
	end, err := ParseEndOfMonth(mmyy, loc)
	if err != nil {
		return false, err
	}
	return at.In(end.Location()).After(end), nil
}
