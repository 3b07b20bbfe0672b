package automation

import (
	"errors"
	"fmt"
	"net/http"

	"atende/database"
	"atende/httpx"

	log "github.com/sirupsen/logrus"
)

// PDFSource はリクエストから印刷対象の HTML とファイル名を組み立てます。
type PDFSource func(r *http.Request) (html, filename string, err error)

// PDFHandler は source の HTML を PDF にして返すハンドラです。
// source が database.ErrNotFound を返した場合は 404 にします。
func PDFHandler(printer Printer, source PDFSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		html, filename, err := source(r)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				httpx.WriteJSONError(w, "not found", http.StatusNotFound)
				return
			}
			log.Printf("WARN: failed to build document for PDF: %v", err)
			httpx.WriteJSONError(w, "failed to build document", http.StatusInternalServerError)
			return
		}

		pdf, err := printer.PrintPDF(r.Context(), html)
		if err != nil {
			log.Printf("WARN: PDF printing failed: %v", err)
			httpx.WriteJSONError(w, "failed to print PDF", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
		w.Write(pdf)
	}
}
