package core

import "fmt"

// Ledger periods are encoded as anul*100+luna (202501 = January 2025), the
// same encoding the depcred queries order and range over.

// Period packs a year and month into a period value.
func Period(year, month int) int {
	return year*100 + month
}

// PeriodYear extracts the year from a period value.
func PeriodYear(p int) int {
	return p / 100
}

// PeriodMonth extracts the month from a period value.
func PeriodMonth(p int) int {
	return p % 100
}

// MonthsBetween counts the months in [start, end], both ends included.
func MonthsBetween(start, end int) int {
	return (PeriodYear(end)-PeriodYear(start))*12 + (PeriodMonth(end) - PeriodMonth(start)) + 1
}

// PreviousPeriod returns the period one month before the given year/month.
// January rolls back to December of the previous year.
func PreviousPeriod(year, month int) (int, int) {
	if month > 1 {
		return year, month - 1
	}
	return year - 1, 12
}

var monthLabels = [12]string{
	"Ian", "Feb", "Mar", "Apr", "Mai", "Iun",
	"Iul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// FormatPeriod renders a period value as "Ian 2025".
func FormatPeriod(p int) string {
	month := PeriodMonth(p)
	if month < 1 || month > 12 {
		return fmt.Sprintf("%02d %d", month, PeriodYear(p))
	}
	return fmt.Sprintf("%s %d", monthLabels[month-1], PeriodYear(p))
}
