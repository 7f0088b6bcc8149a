package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// SlipLine is one labelled amount on a salary slip.
type SlipLine struct {
	Label  string
	Amount string
}

// SlipDocument carries the pre-formatted content of one salary slip.
type SlipDocument struct {
	CompanyName   string
	Period        string
	EmployeeCode  string
	EmployeeName  string
	Details       []SlipLine
	Earnings      []SlipLine
	Deductions    []SlipLine
	Contributions []SlipLine
	GrossPay      string
	TotalDeducted string
	NetPay        string
}

// PDFExporter renders salary slips as single page A4 documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderSlip lays out header, attendance details, earnings and deductions
// side by side, then totals.
func (e *PDFExporter) RenderSlip(doc SlipDocument) ([]byte, error) {
	if doc.EmployeeCode == "" {
		return nil, fmt.Errorf("slip requires an employee code")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, strings.ToUpper(doc.CompanyName), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 7, "Salary slip for "+doc.Period, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(95, 7, "Employee: "+doc.EmployeeName, "1", 0, "", false, 0, "")
	pdf.CellFormat(95, 7, "Code: "+doc.EmployeeCode, "1", 1, "", false, 0, "")
	for i := 0; i < len(doc.Details); i += 2 {
		left := doc.Details[i]
		pdf.CellFormat(95, 7, left.Label+": "+left.Amount, "1", 0, "", false, 0, "")
		if i+1 < len(doc.Details) {
			right := doc.Details[i+1]
			pdf.CellFormat(95, 7, right.Label+": "+right.Amount, "1", 1, "", false, 0, "")
		} else {
			pdf.CellFormat(95, 7, "", "1", 1, "", false, 0, "")
		}
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(65, 8, "Earnings", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 8, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(65, 8, "Deductions", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 8, "Amount", "1", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	rows := len(doc.Earnings)
	if len(doc.Deductions) > rows {
		rows = len(doc.Deductions)
	}
	for i := 0; i < rows; i++ {
		writeSlipCell(pdf, doc.Earnings, i, 0)
		writeSlipCell(pdf, doc.Deductions, i, 1)
	}

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(65, 7, "Gross pay", "1", 0, "", false, 0, "")
	pdf.CellFormat(30, 7, doc.GrossPay, "1", 0, "R", false, 0, "")
	pdf.CellFormat(65, 7, "Total deductions", "1", 0, "", false, 0, "")
	pdf.CellFormat(30, 7, doc.TotalDeducted, "1", 1, "R", false, 0, "")
	pdf.Ln(3)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 9, "Net pay: "+doc.NetPay, "1", 1, "C", false, 0, "")

	if len(doc.Contributions) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 8)
		parts := make([]string, 0, len(doc.Contributions))
		for _, c := range doc.Contributions {
			parts = append(parts, c.Label+" "+c.Amount)
		}
		pdf.MultiCell(0, 5, "Employer contributions: "+strings.Join(parts, ", "), "", "", false)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSlipCell(pdf *gofpdf.Fpdf, lines []SlipLine, i int, column int) {
	ln := 0
	if column == 1 {
		ln = 1
	}
	if i < len(lines) {
		pdf.CellFormat(65, 7, lines[i].Label, "1", 0, "", false, 0, "")
		pdf.CellFormat(30, 7, lines[i].Amount, "1", ln, "R", false, 0, "")
		return
	}
	pdf.CellFormat(65, 7, "", "1", 0, "", false, 0, "")
	pdf.CellFormat(30, 7, "", "1", ln, "", false, 0, "")
}
