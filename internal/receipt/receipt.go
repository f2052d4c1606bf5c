package receipt

import (
	"time"

	"github.com/resibo-ph/resibo/internal/extract"
	"github.com/resibo-ph/resibo/internal/ocr"
)

// UploadedFile is one imported capture: an uploaded image, a rendered PDF
// page, or a camera shot. The original raster is written once at import; the
// processed raster is overwritten on every preprocessing re-run, never
// versioned. Rotation persists with the file and is applied before
// binarization and when mapping overlay clicks.
type UploadedFile struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	OriginalPath  string      `json:"original_path"`
	ProcessedPath string      `json:"processed_path,omitempty"`
	Rotation      int         `json:"rotation"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	OCR           *ocr.Result `json:"ocr,omitempty"`
}

// ImageRef is the per-file entry recorded with a saved record: which captures
// produced it, whether a processed variant existed, and the rotation in
// effect.
type ImageRef struct {
	Name      string `json:"name"`
	Processed bool   `json:"processed"`
	Rotation  int    `json:"rotation"`
}

// Record is one saved receipt. Monetary fields are pointers so a field the
// extractor or reviewer never filled exports as empty rather than 0.00.
type Record struct {
	ID          string `json:"id"`
	ReceiptDate string `json:"receipt_date"`

	SellerName    string `json:"seller_name"`
	SellerTIN     string `json:"seller_tin"`
	SellerAddress string `json:"seller_address"`
	BuyerName     string `json:"buyer_name"`
	BuyerTIN      string `json:"buyer_tin"`
	BuyerAddress  string `json:"buyer_address"`

	DocumentType    string `json:"document_type"`
	DocumentNumber  string `json:"document_number"`
	Role            string `json:"role"`
	TransactionType string `json:"transaction_type"`
	Terms           string `json:"terms"`
	PaymentMethod   string `json:"payment_method"`

	GrossAmount    *float64 `json:"gross_amount"`
	VatableSales   *float64 `json:"vatable_sales"`
	VATAmount      *float64 `json:"vat_amount"`
	Discount       *float64 `json:"discount"`
	TotalAmountDue *float64 `json:"total_amount_due"`
	WithholdingTax *float64 `json:"withholding_tax"`

	Notes    string `json:"notes"`
	IDNumber string `json:"id_number"`

	Items  []extract.LineItem `json:"items"`
	Images []ImageRef         `json:"images"`
	// OCRText is the raw recognized text the suggestions came from, kept
	// with the record for later review.
	OCRText string `json:"ocr_text,omitempty"`

	SessionUserName  string    `json:"session_user_name"`
	SessionUserTIN   string    `json:"session_user_tin"`
	SessionUserGmail string    `json:"session_user_gmail"`
	SavedAt          time.Time `json:"saved_at"`
}

// SuggestTotal recomputes Gross + VAT − Discount. A suggestion only: it is
// offered to the reviewer, never forced over an edited total.
func (r *Record) SuggestTotal() *float64 {
	if r.GrossAmount == nil && r.VATAmount == nil && r.Discount == nil {
		return nil
	}
	v := deref(r.GrossAmount) + deref(r.VATAmount) - deref(r.Discount)
	return &v
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
