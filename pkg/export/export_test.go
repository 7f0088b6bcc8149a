package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCSVExporterWritesFooter(t *testing.T) {
	data := Dataset{Headers: []string{"employee", "net"}}
	data.Append(map[string]string{"employee": "EMP-1", "net": "1000.00"})
	data.Append(map[string]string{"employee": "EMP-2", "net": "2500.50"})
	data.Footer = map[string]string{"employee": "TOTAL", "net": "3500.50"}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Equal(t, []string{"employee,net", "EMP-1,1000.00", "EMP-2,2500.50", "TOTAL,3500.50"}, lines)
}

func TestCSVExporterDelimiter(t *testing.T) {
	data := Dataset{Headers: []string{"a", "b"}, Rows: []map[string]string{{"a": "1", "b": "2"}}}
	out, err := NewCSVExporter().WithDelimiter('|').Render(data)
	require.NoError(t, err)
	require.Equal(t, "a|b\n1|2\n", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRenderSlip(t *testing.T) {
	out, err := NewPDFExporter().RenderSlip(SlipDocument{
		CompanyName:  "Acme",
		Period:       "March 2024",
		EmployeeCode: "EMP-1",
		EmployeeName: "Asha",
		Details:      []SlipLine{{Label: "Payable days", Amount: "25"}},
		Earnings:     []SlipLine{{Label: "Basic", Amount: "14423.08"}},
		Deductions:   []SlipLine{{Label: "PF", Amount: "1730.77"}, {Label: "PT", Amount: "200.00"}},
		GrossPay:     "14423.08",
		NetPay:       "12492.31",
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().RenderSlip(SlipDocument{})
	require.Error(t, err)
}

func TestXLSXExporterRender(t *testing.T) {
	summary := Sheet{
		Name:    "Summary",
		Data:    Dataset{Headers: []string{"type", "employee"}, Rows: []map[string]string{{"type": "PF", "employee": "1800.00"}}},
		Numeric: []string{"employee"},
	}
	detail := Sheet{
		Name: "PF",
		Data: Dataset{Headers: []string{"code"}, Rows: []map[string]string{{"code": "EMP-1"}}},
	}
	out, err := NewXLSXExporter().Render([]Sheet{summary, detail})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []string{"Summary", "PF"}, f.GetSheetList())

	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"type", "employee"}, {"PF", "1800"}}, rows)
}
