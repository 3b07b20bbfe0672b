package automation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"atende/database"

	"github.com/stretchr/testify/assert"
)

type fakePrinter struct {
	got string
	err error
}

func (f *fakePrinter) PrintPDF(_ context.Context, html string) ([]byte, error) {
	f.got = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

func TestPDFHandler(t *testing.T) {
	p := &fakePrinter{}
	h := PDFHandler(p, func(r *http.Request) (string, string, error) {
		return "<p>recibo</p>", "PD000001.pdf", nil
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "PD000001.pdf")
	assert.Equal(t, "<p>recibo</p>", p.got)
	assert.Equal(t, "%PDF-1.4 fake", rec.Body.String())
}

func TestPDFHandlerErrors(t *testing.T) {
	notFound := PDFHandler(&fakePrinter{}, func(r *http.Request) (string, string, error) {
		return "", "", database.ErrNotFound
	})
	rec := httptest.NewRecorder()
	notFound.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	broken := PDFHandler(&fakePrinter{err: errors.New("chrome crashed")}, func(r *http.Request) (string, string, error) {
		return "<p/>", "x.pdf", nil
	})
	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
