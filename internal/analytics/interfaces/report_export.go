package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	analyticsrepo "zone-tracker/internal/analytics/infrastructure/postgres"
)

// BuildMostVisitedXLSX renders the windowed dwell-time report as a workbook.
func BuildMostVisitedXLSX(siteID string, windowHours int, items []analyticsrepo.ZoneDwell) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	zonesSheet := "zones"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(zonesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Most Visited Zones")
	_ = f.SetCellValue(summarySheet, "A3", "Site")
	_ = f.SetCellValue(summarySheet, "B3", siteID)
	_ = f.SetCellValue(summarySheet, "A4", "Window (hours)")
	_ = f.SetCellValue(summarySheet, "B4", windowHours)
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", time.Now().UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Zone Count")
	_ = f.SetCellValue(summarySheet, "B6", len(items))

	_ = f.SetCellValue(zonesSheet, "A1", "Zone ID")
	_ = f.SetCellValue(zonesSheet, "B1", "Zone Name")
	_ = f.SetCellValue(zonesSheet, "C1", "Total Seconds")
	for i, item := range items {
		row := i + 2
		_ = f.SetCellValue(zonesSheet, fmt.Sprintf("A%d", row), item.ZoneID)
		_ = f.SetCellValue(zonesSheet, fmt.Sprintf("B%d", row), item.ZoneName)
		_ = f.SetCellValue(zonesSheet, fmt.Sprintf("C%d", row), item.TotalSeconds)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildOccupancyPDF renders a snapshot of currently open visits per device.
func BuildOccupancyPDF(siteID string, generatedAt time.Time, visits []analyticsrepo.OpenVisitRow) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Zone Occupancy Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Site: %s", siteID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Open Visits: %d", len(visits)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Zone", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Since", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Last Seen", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, visit := range visits {
		device := visit.DeviceID
		if visit.DeviceName != "" {
			device = visit.DeviceName
		}
		zone := visit.ZoneID
		if visit.ZoneName != "" {
			zone = visit.ZoneName
		}
		pdf.CellFormat(45, 6, device, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, zone, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, visit.StartTime.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, visit.LastSeen.Format("15:04:05"), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
