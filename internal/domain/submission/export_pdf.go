package submission

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
)

const (
	// mergedDirectLimit is the largest selection rendered as one PDF
	// before the export switches to a chunked archive.
	mergedDirectLimit = 40
	// mergedChunkStart is the initial chunk size for archived merges;
	// the archive is rebuilt at half the size whenever a chunk fails.
	mergedChunkStart = 25
)

// ExportFile is a finished download: bytes plus the metadata the HTTP
// layer needs to serve it.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// renderFunc turns a batch of submissions into one PDF document.
type renderFunc func([]*Submission, map[uuid.UUID]string, *time.Location) ([]byte, error)

// BuildMergedPDF renders the selection as a single combined PDF when it
// is small enough, otherwise as a zip of combined chunks. On a chunk
// failure the whole archive is rebuilt at half the chunk size, and when
// even single-submission chunks fail the export degrades to one PDF per
// submission with unrenderable records skipped.
func BuildMergedPDF(subs []*Submission, formNames map[uuid.UUID]string, loc *time.Location) (*ExportFile, error) {
	return buildMergedPDF(renderPDF, subs, formNames, loc)
}

func buildMergedPDF(render renderFunc, subs []*Submission, formNames map[uuid.UUID]string, loc *time.Location) (*ExportFile, error) {
	if len(subs) <= mergedDirectLimit {
		data, err := render(subs, formNames, loc)
		if err == nil {
			return &ExportFile{Name: "submissions.pdf", ContentType: "application/pdf", Data: data}, nil
		}
	}
	for size := mergedChunkStart; size >= 1; size /= 2 {
		data, err := renderChunkedZip(render, subs, formNames, loc, size)
		if err == nil {
			return &ExportFile{Name: "submissions.zip", ContentType: "application/zip", Data: data}, nil
		}
	}
	data, err := renderSingleZip(render, subs, formNames, loc)
	if err != nil {
		return nil, err
	}
	return &ExportFile{Name: "submissions.zip", ContentType: "application/zip", Data: data}, nil
}

// BuildSinglePDFs renders one PDF per submission: a lone submission is
// served directly, anything more is zipped.
func BuildSinglePDFs(subs []*Submission, formNames map[uuid.UUID]string, loc *time.Location) (*ExportFile, error) {
	if len(subs) == 1 {
		data, err := renderPDF(subs, formNames, loc)
		if err != nil {
			return nil, err
		}
		return &ExportFile{Name: subs[0].Name + ".pdf", ContentType: "application/pdf", Data: data}, nil
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, sub := range subs {
		data, err := renderPDF([]*Submission{sub}, formNames, loc)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", sub.Name, err)
		}
		if err := addZipEntry(zw, sub.Name+".pdf", data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &ExportFile{Name: "submissions.zip", ContentType: "application/zip", Data: buf.Bytes()}, nil
}

// renderChunkedZip builds the whole archive at one fixed chunk size.
// Any chunk failure aborts the archive so the caller can restart at a
// smaller size.
func renderChunkedZip(render renderFunc, subs []*Submission, formNames map[uuid.UUID]string, loc *time.Location, size int) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	part := 1
	for start := 0; start < len(subs); start += size {
		end := start + size
		if end > len(subs) {
			end = len(subs)
		}
		data, err := render(subs[start:end], formNames, loc)
		if err != nil {
			return nil, fmt.Errorf("render part %d: %w", part, err)
		}
		name := fmt.Sprintf("submissions_part%02d.pdf", part)
		if end-start == 1 {
			name = subs[start].Name + ".pdf"
		}
		if err := addZipEntry(zw, name, data); err != nil {
			return nil, err
		}
		part++
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderSingleZip is the last-resort merge fallback: one PDF per
// submission, skipping records that still fail to render.
func renderSingleZip(render renderFunc, subs []*Submission, formNames map[uuid.UUID]string, loc *time.Location) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, sub := range subs {
		data, err := render([]*Submission{sub}, formNames, loc)
		if err != nil {
			continue
		}
		if err := addZipEntry(zw, sub.Name+".pdf", data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// renderPDF lays out each submission as a page of label/value rows.
func renderPDF(subs []*Submission, formNames map[uuid.UUID]string, loc *time.Location) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 18)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, sub := range subs {
		pdf.AddPage()

		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, 10, tr(sub.Name), "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(90, 90, 90)
		meta := fmt.Sprintf("%s  |  %s  |  Confirmed: %s",
			formNames[sub.FormID], formatExportTime(sub.SubmitDate, loc), yesNo(sub.IsConfirmed))
		pdf.CellFormat(0, 6, tr(meta), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(4)

		for _, line := range sub.Lines {
			label := line.Label
			if label == "" {
				label = line.Key
			}
			value := line.ValueText
			if strings.HasPrefix(value, "data:image") {
				value = "[signature/image]"
			}
			pdf.SetFont("Helvetica", "B", 10)
			pdf.MultiCell(0, 5.5, tr(label), "", "L", false)
			pdf.SetFont("Helvetica", "", 10)
			if value == "" {
				value = "-"
			}
			pdf.MultiCell(0, 5.5, tr(value), "", "L", false)
			pdf.Ln(2)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
