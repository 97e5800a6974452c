package apihttp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "climate-guard/internal/alarms/domain"
	telemetry "climate-guard/internal/telemetry/domain"
)

// ReadingsReport is the content of a readings export.
type ReadingsReport struct {
	From       time.Time
	To         time.Time
	DevEUIs    []string
	Thresholds alarms.Thresholds
	Readings   []telemetry.Reading
}

// BuildReadingsPDF renders readings as a table.
func BuildReadingsPDF(report ReadingsReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Climate Readings")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", report.From.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", report.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Temperature range: %.1f - %.1f C", report.Thresholds.Temperature.Min, report.Thresholds.Temperature.Max))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Humidity range: %.1f - %.1f %%", report.Thresholds.Humidity.Min, report.Thresholds.Humidity.Max))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d", len(report.Readings)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Name", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Temp (C)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Hum (%)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Alarm", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, r := range report.Readings {
		pdf.CellFormat(45, 6, r.ObservedAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, r.DevEUI, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, r.DeviceName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", r.Temperature), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", r.Humidity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, alarmLabel(report.Thresholds.Evaluate(r.Temperature, r.Humidity)), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingsXLSX renders readings as a workbook with a summary sheet.
func BuildReadingsXLSX(report ReadingsReport) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Climate Readings")
	_ = f.SetCellValue(summarySheet, "A3", "From")
	_ = f.SetCellValue(summarySheet, "B3", report.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "To")
	_ = f.SetCellValue(summarySheet, "B4", report.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Devices")
	_ = f.SetCellValue(summarySheet, "B5", deviceList(report.DevEUIs))
	_ = f.SetCellValue(summarySheet, "A6", "Readings")
	_ = f.SetCellValue(summarySheet, "B6", len(report.Readings))

	headers := []string{"observed_at", "dev_eui", "device_name", "temperature", "humidity", "temperature_alarm", "humidity_alarm"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(readingsSheet, cell, h)
	}
	for i, r := range report.Readings {
		row := i + 2
		eval := report.Thresholds.Evaluate(r.Temperature, r.Humidity)
		values := []any{
			r.ObservedAt.UTC().Format(time.RFC3339),
			r.DevEUI,
			r.DeviceName,
			r.Temperature,
			r.Humidity,
			eval.TemperatureAlarm,
			eval.HumidityAlarm,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(readingsSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func alarmLabel(eval alarms.Evaluation) string {
	switch {
	case eval.TemperatureAlarm && eval.HumidityAlarm:
		return "T+H"
	case eval.TemperatureAlarm:
		return "T"
	case eval.HumidityAlarm:
		return "H"
	}
	return ""
}

func deviceList(devEUIs []string) string {
	if len(devEUIs) == 0 {
		return "all"
	}
	out := devEUIs[0]
	for _, d := range devEUIs[1:] {
		out += ", " + d
	}
	return out
}
