package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PDFRenderer turns an HTML page into a PDF.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html, title string) (*Result, error)
}

// Paper is a page size and uniform margin in inches.
type Paper struct {
	Width, Height, Margin float64
}

var Letter = Paper{Width: 8.5, Height: 11, Margin: 0.75}

var chromiumBinaries = []string{"chromium-browser", "chromium", "google-chrome", "headless-shell"}

// ChromeRenderer prints HTML to PDF with headless Chromium. An empty ExecPath
// is resolved from PATH on each render.
type ChromeRenderer struct {
	ExecPath string
	Timeout  time.Duration
	Paper    Paper
}

func NewChromeRenderer() *ChromeRenderer {
	return &ChromeRenderer{Timeout: 30 * time.Second, Paper: Letter}
}

func (c *ChromeRenderer) binary() (string, error) {
	if c.ExecPath != "" {
		return exec.LookPath(c.ExecPath)
	}
	for _, name := range chromiumBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
}

func (c *ChromeRenderer) RenderPDF(ctx context.Context, html, title string) (*Result, error) {
	binary, err := c.binary()
	if err != nil {
		return nil, err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	paper := c.Paper
	if paper.Width <= 0 || paper.Height <= 0 {
		paper = Letter
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(binary),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var pdf []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paper.Width).
				WithPaperHeight(paper.Height).
				WithMarginTop(paper.Margin).
				WithMarginBottom(paper.Margin).
				WithMarginLeft(paper.Margin).
				WithMarginRight(paper.Margin).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}

	return &Result{
		Data:     pdf,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// sanitizeFilename keeps ASCII letters, digits, dash and underscore, turns
// spaces into dashes and caps the result at 50 bytes.
func sanitizeFilename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, title)
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		return "document"
	}
	return name
}
