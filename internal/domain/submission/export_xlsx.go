package submission

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/mform/mform/internal/domain/form"
)

const exportSheet = "Submissions"
const exportTimeLayout = "2006-01-02 15:04:05"

// exportableComponents picks the columns for a form export: explicitly
// flagged components, falling back to every value-carrying component.
func exportableComponents(components []*form.Component) []*form.Component {
	var flagged []*form.Component
	for _, c := range components {
		if c.IncludeInExport {
			flagged = append(flagged, c)
		}
	}
	if len(flagged) > 0 {
		return flagged
	}
	var fallback []*form.Component
	for _, c := range components {
		if !form.IsLayout(c.Kind) {
			fallback = append(fallback, c)
		}
	}
	return fallback
}

// BuildFormXLSX renders one form's submissions as a workbook: fixed
// identity columns followed by one column per exportable component.
func BuildFormXLSX(components []*form.Component, subs []*Submission, loc *time.Location) ([]byte, error) {
	cols := exportableComponents(components)

	headers := []string{"Submission", "Submitted At", "Confirmed"}
	for _, c := range cols {
		headers = append(headers, c.Label)
	}

	wb, err := newWorkbook(headers)
	if err != nil {
		return nil, err
	}

	for i, sub := range subs {
		row := i + 2
		values := sub.valueByKey()
		cells := []interface{}{sub.Name, formatExportTime(sub.SubmitDate, loc), yesNo(sub.IsConfirmed)}
		for _, c := range cols {
			cells = append(cells, exportValue(values[c.Key]))
		}
		if err := writeRow(wb, row, cells); err != nil {
			return nil, err
		}
	}

	widths := []float64{18, 22, 10}
	for range cols {
		widths = append(widths, 28)
	}
	applyColWidths(wb, widths)

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSelectedXLSX renders an arbitrary submission selection, possibly
// spanning forms. Columns are the union of line labels in first-seen
// order.
func BuildSelectedXLSX(subs []*Submission, formNames map[uuid.UUID]string, loc *time.Location) ([]byte, error) {
	var labels []string
	seen := make(map[string]bool)
	for _, sub := range subs {
		for _, line := range sub.Lines {
			label := line.Label
			if label == "" {
				label = line.Key
			}
			if !seen[label] {
				seen[label] = true
				labels = append(labels, label)
			}
		}
	}

	headers := append([]string{"Submission", "Form", "Submitted At", "Confirmed"}, labels...)
	wb, err := newWorkbook(headers)
	if err != nil {
		return nil, err
	}

	for i, sub := range subs {
		row := i + 2
		values := make(map[string]string, len(sub.Lines))
		for _, line := range sub.Lines {
			label := line.Label
			if label == "" {
				label = line.Key
			}
			values[label] = line.ValueText
		}
		cells := []interface{}{sub.Name, formNames[sub.FormID], formatExportTime(sub.SubmitDate, loc), yesNo(sub.IsConfirmed)}
		for _, label := range labels {
			cells = append(cells, exportValue(values[label]))
		}
		if err := writeRow(wb, row, cells); err != nil {
			return nil, err
		}
	}

	widths := []float64{18, 24, 22, 10}
	for range labels {
		widths = append(widths, 28)
	}
	applyColWidths(wb, widths)

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newWorkbook(headers []string) (*excelize.File, error) {
	wb := excelize.NewFile()
	if err := wb.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	style, err := wb.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E8EEF6"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	for i, title := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := wb.SetCellValue(exportSheet, cell, title); err != nil {
			return nil, err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return nil, err
	}
	if err := wb.SetCellStyle(exportSheet, "A1", last, style); err != nil {
		return nil, err
	}
	return wb, nil
}

func writeRow(wb *excelize.File, row int, cells []interface{}) error {
	for i, v := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := wb.SetCellValue(exportSheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func applyColWidths(wb *excelize.File, widths []float64) {
	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			continue
		}
		_ = wb.SetColWidth(exportSheet, name, name, w)
	}
}

// valueByKey flattens a submission to a key/value map, preferring lines and
// falling back to the answer snapshot for legacy rows without lines.
func (s *Submission) valueByKey() map[string]string {
	values := make(map[string]string)
	if len(s.Lines) > 0 {
		for _, line := range s.Lines {
			values[line.Key] = line.ValueText
		}
		return values
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(s.AnswerJSON), &payload); err != nil {
		return values
	}
	for k, v := range payload {
		if v == nil {
			values[k] = ""
		} else {
			values[k] = fmt.Sprintf("%v", v)
		}
	}
	return values
}

func exportValue(v string) string {
	if strings.HasPrefix(v, "data:image") {
		return "[signature/image]"
	}
	return v
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func formatExportTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(exportTimeLayout)
}
