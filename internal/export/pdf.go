package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const (
	pdfMarginLeft = 15.0
	pdfMarginTop  = 15.0
	// past this Y the next block goes to a fresh page (A4 is 297mm tall)
	pdfPageBreakY = 270.0
	pdfLineHeight = 6.0
	pdfTitleSize  = 18.0
	pdfHeadSize   = 13.0
	pdfBodySize   = 10.0
)

var pdfDailyColumns = []struct {
	title string
	width float64
	align string
}{
	{"Date", 40, "L"},
	{"Burpees", 30, "R"},
	{"Pushups", 30, "R"},
	{"Squats", 30, "R"},
	{"Total", 30, "R"},
}

type pdfWriter struct {
	doc *fpdf.Fpdf
	tr  func(string) string
}

// PDF renders a fixed layout A4 report: title, summary, streak, insights,
// recommendations, predictions and the daily table.
func PDF(ds Dataset) ([]byte, error) {
	doc, err := renderPDF(ds)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := doc.Output(buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func renderPDF(ds Dataset) (*fpdf.Fpdf, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(pdfMarginLeft, pdfMarginTop, pdfMarginLeft)
	doc.SetAutoPageBreak(false, 0)
	doc.SetCreationDate(ds.GeneratedAt)
	doc.SetTitle("Workout report", false)

	w := &pdfWriter{
		doc: doc,
		// core fonts are cp1252
		tr: doc.UnicodeTranslatorFromDescriptor(""),
	}
	doc.AddPage()

	w.title(ds)
	w.summary(ds)
	w.streak(ds)
	w.insights(ds)
	w.recommendations(ds)
	w.predictions(ds)
	w.dailyTable(ds)

	if doc.Err() {
		return nil, fmt.Errorf("render pdf: %w", doc.Error())
	}
	return doc, nil
}

// ensure starts a new page if a block of height h would cross the break line.
func (w *pdfWriter) ensure(h float64) bool {
	if w.doc.GetY()+h <= pdfPageBreakY {
		return false
	}
	w.doc.AddPage()
	return true
}

func (w *pdfWriter) heading(text string) {
	w.ensure(pdfLineHeight * 3)
	w.doc.Ln(pdfLineHeight / 2)
	w.doc.SetFont("Helvetica", "B", pdfHeadSize)
	w.doc.CellFormat(0, pdfLineHeight+2, w.tr(text), "B", 1, "L", false, 0, "")
	w.doc.Ln(1)
	w.doc.SetFont("Helvetica", "", pdfBodySize)
}

func (w *pdfWriter) line(text string) {
	w.ensure(pdfLineHeight)
	w.doc.CellFormat(0, pdfLineHeight, w.tr(text), "", 1, "L", false, 0, "")
}

func (w *pdfWriter) title(ds Dataset) {
	w.doc.SetFont("Helvetica", "B", pdfTitleSize)
	w.doc.CellFormat(0, 10, "Workout report", "", 1, "L", false, 0, "")
	w.doc.SetFont("Helvetica", "", pdfBodySize)
	w.line(fmt.Sprintf("Generated %s", ds.Calendar.In(ds.GeneratedAt).Format("2006-01-02 15:04 MST")))
}

func (w *pdfWriter) summary(ds Dataset) {
	lt := ds.Lifetime
	w.heading("Summary")
	w.line(fmt.Sprintf("Workouts logged: %d", lt.TotalWorkouts))
	w.line(fmt.Sprintf("Total reps: %d", lt.TotalReps))
	w.line(fmt.Sprintf("Active days: %d", lt.ActiveDays))
	w.line(fmt.Sprintf("Average reps per active day: %.1f", lt.AverageRepsPerDay))
	if lt.BestDay != nil {
		w.line(fmt.Sprintf("Best day: %s (%d reps)", lt.BestDay.Date, lt.BestDay.Total))
	}
	if lt.FirstActiveDate != "" {
		w.line(fmt.Sprintf("Period: %s to %s", lt.FirstActiveDate, lt.LastActiveDate))
	}
}

func (w *pdfWriter) streak(ds Dataset) {
	w.heading("Streak")
	w.line(fmt.Sprintf("Current streak: %d days", ds.Streak.CurrentStreak))
	w.line(fmt.Sprintf("Longest streak: %d days", ds.Streak.LongestStreak))
	if ds.Streak.LastActiveDate != "" {
		w.line(fmt.Sprintf("Last active: %s", ds.Streak.LastActiveDate))
	}
}

func (w *pdfWriter) insights(ds Dataset) {
	w.heading("Insights")
	if len(ds.Report.Insights) == 0 {
		w.line("Not enough data yet.")
		return
	}
	for _, ins := range ds.Report.Insights {
		w.line(fmt.Sprintf("[%s] %s: %s", ins.Impact, ins.Title, ins.Message))
	}
}

func (w *pdfWriter) recommendations(ds Dataset) {
	w.heading("Recommendations")
	if len(ds.Report.Recommendations) == 0 {
		w.line("Nothing to recommend, keep going.")
		return
	}
	for _, rec := range ds.Report.Recommendations {
		w.line(fmt.Sprintf("[%s] %s", rec.Priority, rec.Message))
	}
}

func (w *pdfWriter) predictions(ds Dataset) {
	w.heading("Predictions")
	if len(ds.Report.Predictions) == 0 {
		w.line("No upward trend to project.")
		return
	}
	for _, p := range ds.Report.Predictions {
		w.line(fmt.Sprintf("[%s confidence] %s", p.Confidence, p.Message))
	}
}

func (w *pdfWriter) tableHeader() {
	w.doc.SetFont("Helvetica", "B", pdfBodySize)
	w.doc.SetFillColor(230, 230, 230)
	for _, c := range pdfDailyColumns {
		w.doc.CellFormat(c.width, pdfLineHeight, c.title, "1", 0, c.align, true, 0, "")
	}
	w.doc.Ln(-1)
	w.doc.SetFont("Helvetica", "", pdfBodySize)
}

func (w *pdfWriter) dailyTable(ds Dataset) {
	w.heading("Daily totals")
	if len(ds.Daily) == 0 {
		w.line("No workouts logged.")
		return
	}

	w.ensure(pdfLineHeight * 2)
	w.tableHeader()
	for _, d := range ds.Daily {
		if w.ensure(pdfLineHeight) {
			w.tableHeader()
		}
		for i, field := range dailyRow(d) {
			c := pdfDailyColumns[i]
			w.doc.CellFormat(c.width, pdfLineHeight, field, "1", 0, c.align, false, 0, "")
		}
		w.doc.Ln(-1)
	}
}
