package export

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/2beens/repcount/internal/analytics"
)

// utf8BOM makes spreadsheet apps detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const csvDateTimeLayout = "2006-01-02 15:04:05"

var (
	workoutsHeader = []string{"Date", "Day", "Exercise Type", "Count"}
	dailyHeader    = []string{"Date", "Burpees", "Pushups", "Squats", "Total"}
)

// CSV renders either the raw workouts or the daily aggregates. Every field is
// quoted, embedded quotes are doubled.
func CSV(ds Dataset, kind Kind) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Write(utf8BOM)

	switch kind {
	case KindDaily:
		writeCSVRow(buf, dailyHeader)
		for _, d := range ds.Daily {
			writeCSVRow(buf, dailyRow(d))
		}
	default:
		writeCSVRow(buf, workoutsHeader)
		for _, w := range ds.Workouts {
			local := ds.Calendar.In(w.Date)
			writeCSVRow(buf, []string{
				local.Format(csvDateTimeLayout),
				local.Weekday().String(),
				w.ExerciseType.String(),
				strconv.Itoa(w.Count),
			})
		}
	}

	return buf.Bytes(), nil
}

func writeCSVRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteString("\r\n")
}

func dailyRow(d analytics.DailyAggregate) []string {
	return []string{
		d.Date,
		strconv.Itoa(d.Burpees),
		strconv.Itoa(d.Pushups),
		strconv.Itoa(d.Squats),
		strconv.Itoa(d.Total),
	}
}
