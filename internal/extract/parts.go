package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/sheet"
)

// spreadsheetTypes are inline MIME types converted to text before sending.
var spreadsheetTypes = map[string]bool{
	sheet.ContentType:           true,
	"application/vnd.ms-excel": true,
}

// IsSpreadsheet reports whether mimeType is a workbook format.
func IsSpreadsheet(mimeType string) bool {
	return spreadsheetTypes[strings.ToLower(mimeType)]
}

// partInfo describes the prepared inputs for telemetry.
type partInfo struct {
	formats []string
	pages   int
}

// prepareParts converts spreadsheets to text parts and counts PDF pages.
// Other parts pass through unchanged.
func (s *Service) prepareParts(parts []providers.Part) ([]providers.Part, partInfo, error) {
	out := make([]providers.Part, 0, len(parts))
	info := partInfo{formats: make([]string, 0, len(parts))}

	for i, p := range parts {
		switch p := p.(type) {
		case providers.TextPart:
			out = append(out, p)
			info.formats = append(info.formats, "txt")

		case providers.InlinePart:
			switch {
			case IsSpreadsheet(p.MIMEType):
				raw, err := p.Bytes()
				if err != nil {
					return nil, info, fmt.Errorf("part %d: decode spreadsheet: %w", i, err)
				}
				sheets, err := sheet.ReadXLSX(raw)
				if err != nil {
					return nil, info, fmt.Errorf("part %d: %w", i, err)
				}
				out = append(out, providers.TextPart{Text: sheet.Text(sheets)})
				info.formats = append(info.formats, "spreadsheet")

			case strings.EqualFold(p.MIMEType, "application/pdf"):
				if n, err := pageCount(p); err != nil {
					s.logger.Warn("pdf page count failed", "part", i, "error", err)
				} else {
					info.pages += n
				}
				out = append(out, p)
				info.formats = append(info.formats, "pdf")

			default:
				out = append(out, p)
				info.formats = append(info.formats, formatOf(p.MIMEType))
			}
		}
	}
	return out, info, nil
}

func pageCount(p providers.InlinePart) (int, error) {
	raw, err := p.Bytes()
	if err != nil {
		return 0, err
	}
	return api.PageCount(bytes.NewReader(raw), nil)
}

// formatOf returns the subtype of a MIME type: image/png -> png.
func formatOf(mimeType string) string {
	if i := strings.LastIndex(mimeType, "/"); i >= 0 && i < len(mimeType)-1 {
		return mimeType[i+1:]
	}
	return "unknown"
}
