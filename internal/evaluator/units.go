package evaluator

import (
	"fmt"

	"github.com/acryl-data/monitors/internal/domain"
	"github.com/acryl-data/monitors/internal/evalerr"
)

const (
	millisecondsPerSecond = 1000
	millisecondsPerMinute = millisecondsPerSecond * 60
	millisecondsPerHour   = millisecondsPerMinute * 60
)

// millisecondsForUnit converts a CalendarInterval unit into milliseconds.
// DAY is deliberately unsupported, matching the upstream contract's
// get_milliseconds_for_unit, which only handles HOUR and MINUTE.
func millisecondsForUnit(unit domain.CalendarInterval) (int64, error) {
	switch unit {
	case domain.CalendarIntervalHour:
		return millisecondsPerHour, nil
	case domain.CalendarIntervalMinute:
		return millisecondsPerMinute, nil
	default:
		return 0, evalerr.New(evalerr.KindUnsupportedUnit, fmt.Sprintf("unrecognized calendar interval unit %q", unit))
	}
}
