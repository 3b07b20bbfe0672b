package automation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	log "github.com/sirupsen/logrus"
)

// Printer は HTML を PDF に変換します。
type Printer interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
}

// RodPrinter はヘッドレス Chrome を1つ起動して使い回します。
type RodPrinter struct {
	bin string

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodPrinter は chromeBin が空ならシステムの Chrome を探し、無ければ rod がダウンロードします。
func NewRodPrinter(chromeBin string) *RodPrinter {
	return &RodPrinter{bin: chromeBin}
}

func (p *RodPrinter) connect() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		return p.browser, nil
	}

	l := launcher.New().Headless(true).Leakless(false)
	if p.bin != "" {
		l = l.Bin(p.bin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("ブラウザの起動に失敗: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("ブラウザへの接続に失敗: %w", err)
	}
	log.Println("headless browser started for PDF printing")
	p.browser = browser
	return browser, nil
}

// PrintPDF は A4 で印刷した PDF を返します。
func (p *RodPrinter) PrintPDF(ctx context.Context, html string) ([]byte, error) {
	browser, err := p.connect()
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("ページの作成に失敗: %w", err)
	}
	defer page.Close()

	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("HTMLの読み込みに失敗: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("HTMLの描画待ちに失敗: %w", err)
	}

	width, height := 8.27, 11.69
	stream, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		PaperWidth:      &width,
		PaperHeight:     &height,
	})
	if err != nil {
		return nil, fmt.Errorf("PDFの生成に失敗: %w", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("PDFの読み出しに失敗: %w", err)
	}
	return data, nil
}

func (p *RodPrinter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}
