package export

import (
	"context"
	"fmt"
)

// Service renders exports that need a PDF backend.
type Service struct {
	renderer PDFRenderer
}

// NewService creates a new export service
func NewService(renderer PDFRenderer) *Service {
	return &Service{renderer: renderer}
}

// CertificatePDF renders the completion certificate of a document.
func (s *Service) CertificatePDF(ctx context.Context, data CertificateData) (*Result, error) {
	html, err := RenderCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	if s.renderer == nil {
		return nil, fmt.Errorf("%w: no renderer configured", ErrPDFDependencyMissing)
	}
	result, err := s.renderer.RenderPDF(ctx, html, "certificate "+data.Document.Title)
	if err != nil {
		return nil, err
	}
	return result, nil
}
