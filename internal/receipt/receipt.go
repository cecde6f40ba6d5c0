package receipt

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04:05"

// Merchant is printed at the top of every receipt.
type Merchant struct {
	Name     string
	Address  []string
	Footer   string
	Location *time.Location
}

func DefaultMerchant() Merchant {
	return Merchant{
		Name: "ECOMMERCE TECHNOLOGY",
		Address: []string{
			"Instituto Tecnologico de Chilpancingo",
			"Av. José Francisco Ruiz Massieu No. 5, Fracc. Villa",
			"Moderna, 39090 Chilpancingo de los Bravo, Gro.",
		},
		Footer:   "THANK YOU FOR YOUR PURCHASE!",
		Location: time.UTC,
	}
}

func (m Merchant) localTime(t time.Time) string {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(timeLayout)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// Render writes the receipt of order as a 102x150mm PDF.
func Render(w io.Writer, order domain.Order, m Merchant) error {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 102, Ht: 150},
	})
	pdf.SetMargins(4, 8, 4)
	pdf.SetAutoPageBreak(true, 8)
	pdf.SetCreationDate(order.CreatedAt)
	pdf.SetTitle("Receipt "+order.ID, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	width, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	inner := width - left - right

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(inner, 8, tr(m.Name), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	for _, line := range m.Address {
		pdf.CellFormat(inner, 4, tr(line), "", 1, "C", false, 0, "")
	}
	pdf.Ln(1)
	pdf.CellFormat(inner, 4, "Purchased: "+m.localTime(order.CreatedAt), "", 1, "C", false, 0, "")
	pdf.CellFormat(inner, 4, tr("Customer: "+order.PrincipalLabel), "", 1, "C", false, 0, "")
	pdf.Ln(2)

	cols := []float64{inner * 0.56, inner * 0.14, inner * 0.30}
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"PRODUCT", "QTY", "PRICE"} {
		pdf.CellFormat(cols[i], 6, h, "B", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, item := range order.Items {
		pdf.CellFormat(cols[0], 5, tr(item.Name), "", 0, "L", false, 0, "")
		pdf.CellFormat(cols[1], 5, fmt.Sprint(item.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(cols[2], 5, money(item.Subtotal()), "", 1, "R", false, 0, "")
	}

	pdf.Line(left, pdf.GetY()+1, width-right, pdf.GetY()+1)
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(inner/2, 6, fmt.Sprintf("ITEMS: %d", order.ItemCount()), "", 0, "L", false, 0, "")
	pdf.CellFormat(inner/2, 6, "TOTAL: "+money(order.Total), "", 1, "R", false, 0, "")
	if order.PointsEarned > 0 {
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(inner, 5, fmt.Sprintf("Loyalty points earned: %d", order.PointsEarned), "", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(inner, 6, tr(m.Footer), "", 1, "C", false, 0, "")

	return pdf.Output(w)
}

// Text is the receipt as plain text, with the same content as the PDF.
func Text(order domain.Order, m Merchant) string {
	var b strings.Builder
	fmt.Fprintln(&b, m.Name)
	for _, line := range m.Address {
		fmt.Fprintln(&b, line)
	}
	fmt.Fprintf(&b, "Purchased: %s\n", m.localTime(order.CreatedAt))
	fmt.Fprintf(&b, "Customer: %s\n", order.PrincipalLabel)
	b.WriteString(strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&b, "%-22s %5s %11s\n", "PRODUCT", "QTY", "PRICE")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "%-22s %5d %11s\n", truncate(item.Name, 22), item.Quantity, money(item.Subtotal()))
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&b, "ITEMS: %d\n", order.ItemCount())
	fmt.Fprintf(&b, "TOTAL: %s\n", money(order.Total))
	if order.PointsEarned > 0 {
		fmt.Fprintf(&b, "Loyalty points earned: %d\n", order.PointsEarned)
	}
	fmt.Fprintln(&b, m.Footer)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
