// Package datepart implements the dialect-specific date-part extraction
// library: given a base column expression and a named part, it returns a
// SQL expression yielding that part.
package datepart

import (
	"fmt"
	"strings"

	"github.com/querysync/core/internal/sql/dialect"
)

// Part identifies one of the nine supported date-part extractions.
type Part string

// The nine supported date-part extractions.
const (
	Year       Part = "Year"
	Quarter    Part = "Quarter"
	Month      Part = "Month"
	MonthName  Part = "Month Name"
	MonthShort Part = "Month Short"
	Week       Part = "Week"
	Day        Part = "Day"
	DayName    Part = "Day Name"
	DayShort   Part = "Day Short"
)

// IsString reports whether a part returns a string value as opposed to an
// integer: numeric parts return integers, string parts return strings.
func (p Part) IsString() bool {
	switch p {
	case MonthName, MonthShort, DayName, DayShort:
		return true
	default:
		return false
	}
}

// WeekStart controls which day a week bucket begins on.
type WeekStart string

// The two supported week starts.
const (
	Monday WeekStart = "mon"
	Sunday WeekStart = "sun"
)

// Expr returns the dialect-specific SQL expression that extracts part from
// col (which must already be a fully-quoted column reference or
// expression).
func Expr(d dialect.Kind, col string, part Part, weekStart WeekStart) string {
	switch d {
	case dialect.Postgres, dialect.EmbeddedColumnar:
		return pgLikeExpr(col, part, weekStart)
	case dialect.MySQL:
		return mysqlExpr(col, part, weekStart)
	case dialect.MSSQL:
		return mssqlExpr(col, part, weekStart)
	case dialect.SQLite:
		return sqliteExpr(col, part, weekStart)
	default:
		return pgLikeExpr(col, part, weekStart)
	}
}

// OrderExpr returns a companion numeric ordering expression for string
// parts (Month Name/Short, Day Name/Short), so label order tracks calendar
// order rather than lexical order.
func OrderExpr(d dialect.Kind, col string, part Part, weekStart WeekStart) string {
	switch part {
	case MonthName, MonthShort:
		return Expr(d, col, Month, weekStart)
	case DayName, DayShort:
		return Expr(d, col, Day, weekStart)
	default:
		return Expr(d, col, part, weekStart)
	}
}

// sundayShift returns the ISO-week shift in days: 1 for a Sunday start
// (shiftedCol then adds a one-day interval to col before extraction,
// pushing an ISO Monday-start week boundary back to Sunday), else 0.
func sundayShift(weekStart WeekStart) int {
	if weekStart == Sunday {
		return 1
	}
	return 0
}

func pgLikeExpr(col string, part Part, weekStart WeekStart) string {
	switch part {
	case Year:
		return fmt.Sprintf("EXTRACT(YEAR FROM %s)::INT", col)
	case Quarter:
		return fmt.Sprintf("EXTRACT(QUARTER FROM %s)::INT", col)
	case Month:
		return fmt.Sprintf("EXTRACT(MONTH FROM %s)::INT", col)
	case MonthName:
		return fmt.Sprintf("TO_CHAR(%s, 'FMMonth')", col)
	case MonthShort:
		return fmt.Sprintf("TO_CHAR(%s, 'Mon')", col)
	case Week:
		shifted := shiftedCol(col, weekStart)
		return fmt.Sprintf("EXTRACT(WEEK FROM %s)::INT", shifted)
	case Day:
		return fmt.Sprintf("EXTRACT(DAY FROM %s)::INT", col)
	case DayName:
		return fmt.Sprintf("TO_CHAR(%s, 'FMDay')", col)
	case DayShort:
		return fmt.Sprintf("TO_CHAR(%s, 'Dy')", col)
	default:
		return col
	}
}

func shiftedCol(col string, weekStart WeekStart) string {
	if sundayShift(weekStart) == 1 {
		return fmt.Sprintf("(%s + INTERVAL '1 day')", col)
	}
	return col
}

func mysqlExpr(col string, part Part, weekStart WeekStart) string {
	switch part {
	case Year:
		return fmt.Sprintf("YEAR(%s)", col)
	case Quarter:
		return fmt.Sprintf("QUARTER(%s)", col)
	case Month:
		return fmt.Sprintf("MONTH(%s)", col)
	case MonthName:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%M')", col)
	case MonthShort:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%b')", col)
	case Week:
		mode := 3 // ISO week, Monday start
		if weekStart == Sunday {
			mode = 0
		}
		return fmt.Sprintf("WEEK(%s, %d)", col, mode)
	case Day:
		return fmt.Sprintf("DAYOFMONTH(%s)", col)
	case DayName:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%W')", col)
	case DayShort:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%a')", col)
	default:
		return col
	}
}

func mssqlExpr(col string, part Part, weekStart WeekStart) string {
	switch part {
	case Year:
		return fmt.Sprintf("DATEPART(YEAR, %s)", col)
	case Quarter:
		return fmt.Sprintf("DATEPART(QUARTER, %s)", col)
	case Month:
		return fmt.Sprintf("DATEPART(MONTH, %s)", col)
	case MonthName:
		return fmt.Sprintf("DATENAME(MONTH, %s)", col)
	case MonthShort:
		return fmt.Sprintf("LEFT(DATENAME(MONTH, %s), 3)", col)
	case Week:
		if weekStart == Sunday {
			return fmt.Sprintf("DATEPART(WEEK, %s)", col)
		}
		return fmt.Sprintf("DATEPART(ISO_WEEK, %s)", col)
	case Day:
		return fmt.Sprintf("DATEPART(DAY, %s)", col)
	case DayName:
		return fmt.Sprintf("DATENAME(WEEKDAY, %s)", col)
	case DayShort:
		return fmt.Sprintf("LEFT(DATENAME(WEEKDAY, %s), 3)", col)
	default:
		return col
	}
}

func sqliteExpr(col string, part Part, weekStart WeekStart) string {
	switch part {
	case Year:
		return fmt.Sprintf("CAST(strftime('%%Y', %s) AS INTEGER)", col)
	case Quarter:
		return fmt.Sprintf("((CAST(strftime('%%m', %s) AS INTEGER) - 1) / 3 + 1)", col)
	case Month:
		return fmt.Sprintf("CAST(strftime('%%m', %s) AS INTEGER)", col)
	case MonthName:
		return fmt.Sprintf("CASE CAST(strftime('%%m', %s) AS INTEGER) "+
			"WHEN 1 THEN 'January' WHEN 2 THEN 'February' WHEN 3 THEN 'March' "+
			"WHEN 4 THEN 'April' WHEN 5 THEN 'May' WHEN 6 THEN 'June' "+
			"WHEN 7 THEN 'July' WHEN 8 THEN 'August' WHEN 9 THEN 'September' "+
			"WHEN 10 THEN 'October' WHEN 11 THEN 'November' WHEN 12 THEN 'December' END", col)
	case MonthShort:
		return fmt.Sprintf("CASE CAST(strftime('%%m', %s) AS INTEGER) "+
			"WHEN 1 THEN 'Jan' WHEN 2 THEN 'Feb' WHEN 3 THEN 'Mar' "+
			"WHEN 4 THEN 'Apr' WHEN 5 THEN 'May' WHEN 6 THEN 'Jun' "+
			"WHEN 7 THEN 'Jul' WHEN 8 THEN 'Aug' WHEN 9 THEN 'Sep' "+
			"WHEN 10 THEN 'Oct' WHEN 11 THEN 'Nov' WHEN 12 THEN 'Dec' END", col)
	case Week:
		if weekStart == Sunday {
			return fmt.Sprintf("CAST(strftime('%%W', %s, '+1 day') AS INTEGER) + 1", col)
		}
		return fmt.Sprintf("CAST(strftime('%%W', %s) AS INTEGER) + 1", col)
	case Day:
		return fmt.Sprintf("CAST(strftime('%%d', %s) AS INTEGER)", col)
	case DayName:
		return fmt.Sprintf("CASE CAST(strftime('%%w', %s) AS INTEGER) "+
			"WHEN 0 THEN 'Sunday' WHEN 1 THEN 'Monday' WHEN 2 THEN 'Tuesday' "+
			"WHEN 3 THEN 'Wednesday' WHEN 4 THEN 'Thursday' WHEN 5 THEN 'Friday' "+
			"WHEN 6 THEN 'Saturday' END", col)
	case DayShort:
		return fmt.Sprintf("CASE CAST(strftime('%%w', %s) AS INTEGER) "+
			"WHEN 0 THEN 'Sun' WHEN 1 THEN 'Mon' WHEN 2 THEN 'Tue' "+
			"WHEN 3 THEN 'Wed' WHEN 4 THEN 'Thu' WHEN 5 THEN 'Fri' "+
			"WHEN 6 THEN 'Sat' END", col)
	default:
		return col
	}
}

// Token is a parsed date-part reference such as "order_date (Month Short)".
type Token struct {
	Column string
	Part   Part
}

// ParseToken parses a field string of the form "<baseCol> (<Part>)". It
// returns ok=false if field does not match that shape.
func ParseToken(field string) (Token, bool) {
	open := -1
	for i := len(field) - 1; i >= 0; i-- {
		if field[i] == '(' {
			open = i
			break
		}
	}
	if open < 0 || field[len(field)-1] != ')' {
		return Token{}, false
	}
	col := strings.TrimSpace(field[:open])
	partStr := strings.TrimSpace(field[open+1 : len(field)-1])
	switch Part(partStr) {
	case Year, Quarter, Month, MonthName, MonthShort, Week, Day, DayName, DayShort:
		return Token{Column: col, Part: Part(partStr)}, true
	default:
		return Token{}, false
	}
}
