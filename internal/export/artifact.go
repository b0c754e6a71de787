package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2beens/repcount/internal/analytics"
	"github.com/2beens/repcount/internal/workouts"
	"github.com/2beens/repcount/pkg"
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatCSV, FormatPDF, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatCSV:
		return pkg.ContentType.CSV
	case FormatPDF:
		return pkg.ContentType.PDF
	default:
		return pkg.ContentType.JSON
	}
}

// Kind selects the CSV layout. PDF and JSON always carry everything.
type Kind string

const (
	KindWorkouts Kind = "workouts"
	KindDaily    Kind = "daily"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindWorkouts, nil
	case KindWorkouts, KindDaily:
		return k, nil
	default:
		return "", fmt.Errorf("unknown export kind: %q", s)
	}
}

type Artifact struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Filename returns workouts-export-<YYYY-MM-DD>.<ext>.
func Filename(format Format, day string) string {
	return fmt.Sprintf("workouts-export-%s.%s", day, format)
}

// Dataset is everything an export renders. Daily is sorted by date.
type Dataset struct {
	Workouts    []workouts.Event
	Daily       []analytics.DailyAggregate
	Streak      analytics.StreakStats
	Lifetime    analytics.LifetimeStats
	Report      analytics.Report
	Calendar    analytics.Calendar
	GeneratedAt time.Time
}

func (ds Dataset) day() string {
	return ds.Calendar.DayKey(ds.GeneratedAt)
}

// Render produces the artifact for format without touching any cache.
func Render(format Format, kind Kind, ds Dataset) (Artifact, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = CSV(ds, kind)
	case FormatPDF:
		data, err = PDF(ds)
	case FormatJSON:
		data, err = JSON(ds)
	default:
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s: %w", format, err)
	}

	return Artifact{
		Filename: Filename(format, ds.day()),
		MIMEType: format.MIMEType(),
		Data:     data,
	}, nil
}
