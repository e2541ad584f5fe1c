package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseNumber parses an operator-entered decimal. A comma is accepted as the
// decimal separator. Errors wrap ErrInvalidNumber so the UI can reject the
// entry without touching any state.
func ParseNumber(s string) (float64, error) {
	t := strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if t == "" {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidNumber)
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return v, nil
}

// ParseInt parses an operator-entered whole number.
func ParseInt(s string) (int, error) {
	t := strings.TrimSpace(s)
	v, err := strconv.Atoi(t)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return v, nil
}
