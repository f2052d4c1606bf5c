package receipt

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppName and AppVersion identify the exporter in ZIP manifests.
const (
	AppName    = "Resibo"
	AppVersion = "1.0.0"
)

// receiptHeaders is the fixed column contract of Receipts.csv. Downstream
// bookkeeping imports depend on the exact names and order.
var receiptHeaders = []string{
	"ReceiptID", "ReceiptDate",
	"SellerName", "SellerTIN", "SellerAddress",
	"BuyerName", "BuyerTIN", "BuyerAddress",
	"DocumentType", "DocumentNumber", "Role", "TransactionType", "Terms", "PaymentMethod",
	"GrossAmount", "VATAmount", "Discount", "TotalAmountDue", "WithholdingTax",
	"Notes", "IDNumber",
	"SessionUserName", "SessionUserTIN", "SessionUserGmail", "SavedAt",
}

// lineItemHeaders is the fixed column contract of LineItems.csv.
var lineItemHeaders = []string{"ReceiptID", "Item", "Quantity", "UnitPrice", "LineAmount"}

// BuildReceiptsCSV renders all records as Receipts.csv. Unfilled monetary
// fields export as empty cells, never 0.00.
func BuildReceiptsCSV(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(receiptHeaders); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID, r.ReceiptDate,
			r.SellerName, r.SellerTIN, r.SellerAddress,
			r.BuyerName, r.BuyerTIN, r.BuyerAddress,
			r.DocumentType, r.DocumentNumber, r.Role, r.TransactionType, r.Terms, r.PaymentMethod,
			moneyCell(r.GrossAmount), moneyCell(r.VATAmount), moneyCell(r.Discount),
			moneyCell(r.TotalAmountDue), moneyCell(r.WithholdingTax),
			r.Notes, r.IDNumber,
			r.SessionUserName, r.SessionUserTIN, r.SessionUserGmail,
			r.SavedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildLineItemsCSV renders every record's line items as LineItems.csv.
func BuildLineItemsCSV(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(lineItemHeaders); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range records {
		for _, item := range r.Items {
			row := []string{r.ID, item.Item, numberCell(item.Quantity), moneyCell(item.UnitPrice), moneyCell(item.LineAmount)}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("writing CSV row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func moneyCell(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func numberCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ExportZIP packages both CSVs, a manifest, and the working set's rasters
// (original plus processed, the latter with a _processed name suffix) into one
// archive. Missing rasters are logged and skipped, never fatal.
func (s *Service) ExportZIP() ([]byte, error) {
	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	receiptsCSV, err := BuildReceiptsCSV(records)
	if err != nil {
		return nil, err
	}
	itemsCSV, err := BuildLineItemsCSV(records)
	if err != nil {
		return nil, err
	}

	manifest, err := json.MarshalIndent(map[string]any{
		"app":        AppName,
		"version":    AppVersion,
		"exportedAt": s.timeSource.Now().UTC().Format(time.RFC3339),
		"count":      len(records),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("building manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entries := []struct {
		name string
		data []byte
	}{
		{"Receipts.csv", receiptsCSV},
		{"LineItems.csv", itemsCSV},
		{"manifest.json", manifest},
	}
	for _, e := range entries {
		f, err := zw.Create(e.name)
		if err != nil {
			return nil, fmt.Errorf("creating %s in archive: %w", e.name, err)
		}
		if _, err := f.Write(e.data); err != nil {
			return nil, fmt.Errorf("writing %s: %w", e.name, err)
		}
	}

	for _, file := range s.Files() {
		s.addRasterToZip(zw, file.OriginalPath, "images/"+file.Name)
		if file.ProcessedPath != "" {
			s.addRasterToZip(zw, file.ProcessedPath, "images/"+processedName(file.Name))
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) addRasterToZip(zw *zip.Writer, storagePath, archiveName string) {
	data, err := s.storage.Get(storagePath)
	if err != nil {
		slog.Warn("Skipping missing raster in export", "path", storagePath, "error", err)
		return
	}
	f, err := zw.Create(archiveName)
	if err != nil {
		slog.Warn("Failed to add raster to export", "name", archiveName, "error", err)
		return
	}
	if _, err := f.Write(data); err != nil {
		slog.Warn("Failed to write raster to export", "name", archiveName, "error", err)
	}
}

func processedName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_processed" + ext
}
