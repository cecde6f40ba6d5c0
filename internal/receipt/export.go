package receipt

import (
	"fmt"
	"io"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// GrandTotal sums the totals of orders.
func GrandTotal(orders []domain.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Total)
	}
	return total
}

// Export writes an A4 sales report: one section per order followed by the grand total.
func Export(w io.Writer, orders []domain.Order, m Merchant) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle("Sales report", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 10, "SALES DETAIL", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	cols := []float64{80, 40, 30, 40}
	for _, o := range orders {
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 5, tr("Customer: "+o.PrincipalLabel), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, "Total: "+money(o.Total), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, "Timestamp: "+m.localTime(o.CreatedAt), "", 1, "L", false, 0, "")
		pdf.Ln(2)
		pdf.CellFormat(0, 5, "Products purchased:", "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(220, 220, 220)
		for i, h := range []string{"Name", "Unit price", "Quantity", "Line total"} {
			pdf.CellFormat(cols[i], 6, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Helvetica", "", 10)
		for _, item := range o.Items {
			pdf.CellFormat(cols[0], 6, tr(item.Name), "1", 0, "C", false, 0, "")
			pdf.CellFormat(cols[1], 6, money(item.UnitPrice), "1", 0, "C", false, 0, "")
			pdf.CellFormat(cols[2], 6, fmt.Sprint(item.Quantity), "1", 0, "C", false, 0, "")
			pdf.CellFormat(cols[3], 6, money(item.Subtotal()), "1", 1, "C", false, 0, "")
		}
		pdf.Ln(6)
	}

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, fmt.Sprintf("ORDERS: %d", len(orders)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 8, "GRAND TOTAL: "+money(GrandTotal(orders)), "", 1, "L", false, 0, "")

	return pdf.Output(w)
}
