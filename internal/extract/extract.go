// Package extract populates a receipt record from raw OCR text with fuzzy
// label matching and regular-expression value pickers. Everything it produces
// is a suggestion: values land in editable fields and a reviewer's edits
// always win. A field with no match stays blank, never a placeholder.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Roles the record can be tagged with, relative to the verified session user.
const (
	RoleSeller = "SELLER/ISSUER"
	RoleBuyer  = "BUYER/PAYOR"
)

// Document types recognized from OR/SI markers.
const (
	DocOfficialReceipt = "Official Receipt"
	DocSalesInvoice    = "Sales Invoice"
)

const (
	// valueWindow is how many lines below a label are searched for the
	// value; receipts often put the value on the following line.
	valueWindow = 2
	// maxQuickItems bounds runaway false positives on noisy OCR text.
	maxQuickItems = 20
)

// LineItem is one suggested line of the item table. Nil numeric fields mean
// no value was recognized.
type LineItem struct {
	Item       string   `json:"item"`
	Quantity   *float64 `json:"quantity"`
	UnitPrice  *float64 `json:"unit_price"`
	LineAmount *float64 `json:"line_amount"`
}

// Suggestions is the extractor's best-effort read of one receipt's text.
type Suggestions struct {
	Date           string `json:"date"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`

	SellerName    string `json:"seller_name"`
	SellerTIN     string `json:"seller_tin"`
	SellerAddress string `json:"seller_address"`
	BuyerName     string `json:"buyer_name"`
	BuyerTIN      string `json:"buyer_tin"`
	BuyerAddress  string `json:"buyer_address"`

	Gross          *float64 `json:"gross"`
	VatableSales   *float64 `json:"vatable_sales"`
	VAT            *float64 `json:"vat"`
	Discount       *float64 `json:"discount"`
	Total          *float64 `json:"total"`
	WithholdingTax *float64 `json:"withholding_tax"`

	Items []LineItem `json:"items"`
	Role  string     `json:"role"`
}

var (
	isoDateRe = regexp.MustCompile(`\b(20\d{2})[-/.](0?[1-9]|1[0-2])[-/.](0?[1-9]|[12]\d|3[01])\b`)
	dmyDateRe = regexp.MustCompile(`\b(0?[1-9]|[12]\d|3[01])[-/.](0?[1-9]|1[0-2])[-/.](20\d{2})\b`)
	tinRe     = regexp.MustCompile(`\b\d{3}[-\s]?\d{3}[-\s]?\d{3}(?:[-\s]?\d{3})?\b`)
	amountRe  = regexp.MustCompile(`(?:₱|PHP\s?|P)?\d{1,3}(?:[,\s]\d{3})*(?:\.\d{2})?\b`)
	numberRe  = regexp.MustCompile(`\d+(?:\.\d+)?`)

	docMarkerRe = regexp.MustCompile(`(?i)\b(SI|OR)[-#\s]?(\d{3,})\b`)
	docNoRe     = regexp.MustCompile(`(?i)\b(?:no|number)\.?\s*[:#]?\s*(\d{3,})`)

	itemStripRe = regexp.MustCompile(`[|×*@=:]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Extract runs the full heuristic pass over raw OCR text (possibly several
// images concatenated with line breaks). sessionName is the verified user's
// name, used only for role inference; empty is fine.
func Extract(text, sessionName string) Suggestions {
	var s Suggestions
	lines := splitLines(text)

	s.Date = findDate(lines, text)
	s.DocumentType, s.DocumentNumber = findDocument(lines)

	s.SellerName = findText(lines, "seller", "sold by", "merchant", "store")
	s.SellerAddress = findText(lines, "seller address", "address")
	s.BuyerName = findText(lines, "buyer", "sold to", "customer", "payor")
	s.BuyerAddress = findText(lines, "buyer address")
	s.SellerTIN, s.BuyerTIN = findTINs(lines)

	s.Gross = findAmount(lines, "gross amount", "gross")
	s.VatableSales = findAmount(lines, "vatable sales", "vatable")
	s.VAT = findAmount(lines, "vat amount", "12% vat", "vat")
	s.Discount = findAmount(lines, "less discount", "discount")
	s.WithholdingTax = findAmount(lines, "withholding tax", "wht")
	s.Total = findAmount(lines, "total amount due", "amount due", "total due", "grand total", "total")
	if s.Total == nil {
		s.Total = largestAmount(text)
	}

	s.Items = quickLineItems(lines)
	s.Role = InferRole(sessionName, s.SellerName)
	return s
}

// InferRole labels the record relative to the session user: if the verified
// name and the extracted seller name contain each other, the user issued the
// receipt. Advisory only; the reviewer can override it.
func InferRole(sessionName, sellerName string) string {
	a := normalizeName(sessionName)
	b := normalizeName(sellerName)
	if a == "" || b == "" {
		return RoleBuyer
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return RoleSeller
	}
	return RoleBuyer
}

// ParseAmount parses one money-like token: optional currency symbol, digit
// groups with comma or space thousands separators, optional 2-decimal
// fraction. Nil when the string holds no such token.
func ParseAmount(s string) *float64 {
	m := amountRe.FindString(s)
	if m == "" || !strings.ContainsAny(m, "0123456789") {
		return nil
	}
	cleaned := strings.NewReplacer("₱", "", "PHP", "", "P", "", ",", "", " ", "").Replace(m)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// FirstNumber returns the first bare integer or decimal token, nil if none.
func FirstNumber(s string) *float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

func splitLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// findLabelValue finds the first line matching any label and applies pick to
// the label's remainder, then to up to valueWindow following lines. First
// match wins.
func findLabelValue(lines []string, labels []string, pick func(string) (string, bool)) (string, bool) {
	for i, line := range lines {
		for _, label := range labels {
			rest, ok := matchLabel(line, label)
			if !ok {
				continue
			}
			if v, ok := pick(rest); ok {
				return v, true
			}
			for j := i + 1; j <= i+valueWindow && j < len(lines); j++ {
				if v, ok := pick(lines[j]); ok {
					return v, true
				}
			}
		}
	}
	return "", false
}

func pickDate(s string) (string, bool) {
	if m := isoDateRe.FindString(s); m != "" {
		return strings.NewReplacer("/", "-", ".", "-").Replace(m), true
	}
	if m := dmyDateRe.FindString(s); m != "" {
		return strings.NewReplacer("/", "-", ".", "-").Replace(m), true
	}
	return "", false
}

func pickTIN(s string) (string, bool) {
	m := tinRe.FindString(s)
	if m == "" {
		return "", false
	}
	digits := strings.NewReplacer("-", "", " ", "").Replace(m)
	if len(digits) != 9 && len(digits) != 12 {
		return "", false
	}
	return digits, true
}

func pickAmountStr(s string) (string, bool) {
	if v := ParseAmount(s); v != nil {
		return formatAmount(*v), true
	}
	return "", false
}

func pickText(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func findDate(lines []string, text string) string {
	if v, ok := findLabelValue(lines, []string{"date", "receipt date", "transaction date"}, pickDate); ok {
		return v
	}
	// No labeled date; take the first date-shaped token anywhere.
	if v, ok := pickDate(text); ok {
		return v
	}
	return ""
}

func findText(lines []string, labels ...string) string {
	v, _ := findLabelValue(lines, labels, pickText)
	return v
}

func findAmount(lines []string, labels ...string) *float64 {
	v, ok := findLabelValue(lines, labels, pickAmountStr)
	if !ok {
		return nil
	}
	return ParseAmount(v)
}

// findTINs assigns tax identifiers: explicit buyer labels go to the buyer,
// everything else to the seller, since the seller's TIN is what receipts
// print by default.
func findTINs(lines []string) (seller, buyer string) {
	buyer, _ = findLabelValue(lines, []string{"buyer tin"}, pickTIN)

	var sellerLines []string
	for _, l := range lines {
		if !fuzzyContains(l, "buyer") {
			sellerLines = append(sellerLines, l)
		}
	}
	seller, _ = findLabelValue(sellerLines, []string{"seller tin", "vat reg tin", "tin"}, pickTIN)
	return seller, buyer
}

// findDocument scans for an OR/SI marker adjacent to a number, falls back to
// a generic "No." pattern, and finally to fuzzy-detecting the document-type
// words anywhere in the text.
func findDocument(lines []string) (docType, docNumber string) {
	for _, line := range lines {
		if m := docMarkerRe.FindStringSubmatch(line); m != nil {
			if strings.EqualFold(m[1], "or") {
				docType = DocOfficialReceipt
			} else {
				docType = DocSalesInvoice
			}
			docNumber = strings.ToUpper(m[1]) + "-" + m[2]
			return docType, docNumber
		}
	}
	for _, line := range lines {
		if m := docNoRe.FindStringSubmatch(line); m != nil {
			docNumber = m[1]
			break
		}
	}
	for _, line := range lines {
		if fuzzyContains(line, "official receipt") {
			return DocOfficialReceipt, docNumber
		}
		if fuzzyContains(line, "sales invoice") {
			return DocSalesInvoice, docNumber
		}
	}
	return "", docNumber
}

// largestAmount implements the total fallback: the grand total is typically
// the largest printed figure on a receipt.
func largestAmount(text string) *float64 {
	var best *float64
	for _, m := range amountRe.FindAllString(text, -1) {
		v := ParseAmount(m)
		if v == nil {
			continue
		}
		if best == nil || *v > *best {
			best = v
		}
	}
	return best
}

// metaWords marks lines that belong to the labeled-field zone of a receipt,
// which the line-item heuristic should not mistake for item rows.
var metaWords = []string{"tin", "total", "vat", "date", "address", "tel", "phone", "discount", "change", "cash"}

// quickLineItems applies the two-numbers-or-more rule: a line is an item row
// only when it carries at least a quantity and a price. The third number, if
// present, is the line amount; otherwise quantity×price is suggested.
func quickLineItems(lines []string) []LineItem {
	var items []LineItem
	for _, line := range lines {
		if isMetaLine(line) {
			continue
		}
		stripped := itemStripRe.ReplaceAllString(line, " ")
		nums := numberRe.FindAllString(stripped, -1)
		if len(nums) < 2 {
			continue
		}

		qty := mustParse(nums[0])
		price := mustParse(nums[1])
		item := LineItem{Quantity: &qty, UnitPrice: &price}
		if len(nums) >= 3 {
			amt := mustParse(nums[2])
			item.LineAmount = &amt
		} else {
			amt := qty * price
			item.LineAmount = &amt
		}

		desc := numberRe.ReplaceAllString(stripped, " ")
		desc = strings.TrimSpace(spaceRe.ReplaceAllString(desc, " "))
		desc = strings.Trim(desc, ".,- ")
		item.Item = desc

		items = append(items, item)
		if len(items) >= maxQuickItems {
			break
		}
	}
	return items
}

func isMetaLine(line string) bool {
	lower := strings.ToLower(line)
	for _, w := range metaWords {
		if labelRe(w).MatchString(lower) {
			return true
		}
	}
	return false
}

func mustParse(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func normalizeName(s string) string {
	return spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
