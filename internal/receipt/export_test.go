package receipt

import (
	"bytes"
	"encoding/csv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/resibo-ph/resibo/internal/extract"
)

func parseCSV(data []byte) [][]string {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	Expect(err).NotTo(HaveOccurred())
	return rows
}

var _ = Describe("BuildReceiptsCSV", func() {
	var records []*Record

	BeforeEach(func() {
		gross := 1339.29
		vat := 160.71
		total := 1500.0
		records = []*Record{{
			ID:               "r1",
			ReceiptDate:      "2024-03-15",
			SellerName:       "ACME TRADING",
			SellerTIN:        "123456789",
			BuyerName:        "Juan Dela Cruz",
			DocumentType:     "Official Receipt",
			DocumentNumber:   "OR-12345",
			Role:             extract.RoleBuyer,
			GrossAmount:      &gross,
			VATAmount:        &vat,
			TotalAmountDue:   &total,
			SessionUserName:  "Juan Dela Cruz",
			SessionUserTIN:   "123456789",
			SessionUserGmail: "juan@gmail.com",
			SavedAt:          time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		}}
	})

	It("should emit the fixed header in order", func() {
		rows := parseCSV(must(BuildReceiptsCSV(records)))
		Expect(rows[0]).To(Equal([]string{
			"ReceiptID", "ReceiptDate",
			"SellerName", "SellerTIN", "SellerAddress",
			"BuyerName", "BuyerTIN", "BuyerAddress",
			"DocumentType", "DocumentNumber", "Role", "TransactionType", "Terms", "PaymentMethod",
			"GrossAmount", "VATAmount", "Discount", "TotalAmountDue", "WithholdingTax",
			"Notes", "IDNumber",
			"SessionUserName", "SessionUserTIN", "SessionUserGmail", "SavedAt",
		}))
	})

	It("should render filled amounts with two decimals", func() {
		rows := parseCSV(must(BuildReceiptsCSV(records)))
		row := rows[1]
		Expect(row[14]).To(Equal("1339.29")) // GrossAmount
		Expect(row[15]).To(Equal("160.71"))  // VATAmount
		Expect(row[17]).To(Equal("1500.00")) // TotalAmountDue
	})

	It("should leave unfilled amounts empty rather than zero", func() {
		rows := parseCSV(must(BuildReceiptsCSV(records)))
		row := rows[1]
		Expect(row[16]).To(Equal("")) // Discount
		Expect(row[18]).To(Equal("")) // WithholdingTax
	})

	It("should format SavedAt as RFC 3339 UTC", func() {
		rows := parseCSV(must(BuildReceiptsCSV(records)))
		Expect(rows[1][24]).To(Equal("2024-03-15T10:30:00Z"))
	})

	It("should emit only the header for no records", func() {
		rows := parseCSV(must(BuildReceiptsCSV(nil)))
		Expect(rows).To(HaveLen(1))
	})
})

var _ = Describe("BuildLineItemsCSV", func() {
	It("should emit one row per item keyed by record ID", func() {
		qty := 2.0
		price := 15.0
		amount := 30.0
		records := []*Record{{
			ID: "r1",
			Items: []extract.LineItem{
				{Item: "Ballpen", Quantity: &qty, UnitPrice: &price, LineAmount: &amount},
				{Item: "Notebook"},
			},
		}}

		rows := parseCSV(must(BuildLineItemsCSV(records)))
		Expect(rows[0]).To(Equal([]string{"ReceiptID", "Item", "Quantity", "UnitPrice", "LineAmount"}))
		Expect(rows[1]).To(Equal([]string{"r1", "Ballpen", "2", "15.00", "30.00"}))
		Expect(rows[2]).To(Equal([]string{"r1", "Notebook", "", "", ""}))
	})
})

func must(data []byte, err error) []byte {
	Expect(err).NotTo(HaveOccurred())
	return data
}
