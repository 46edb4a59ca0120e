package pdf

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"path"
	"time"

	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/storage"
	"fieldservice_backend/platform/logger"

	qrcode "github.com/skip2/go-qrcode"
)

//go:embed templates/contract.html
var templateFS embed.FS

var contractTemplate = template.Must(template.ParseFS(templateFS, "templates/contract.html"))

// Converter turns HTML into PDF bytes.
type Converter interface {
	ConvertHTML(ctx context.Context, indexHTML []byte, opts ConvertOpts) ([]byte, error)
}

// ObjectStore is the subset of storage.Service the generator needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, bucket, folder, fileName, contentType string, reader io.Reader, size int64) (string, error)
	GenerateDownloadURL(ctx context.Context, bucket, fileKey string, ttl time.Duration) (*storage.PresignedURL, error)
}

// ContractGenerator renders a quote as a contract PDF, uploads it and returns a download link.
type ContractGenerator struct {
	converter Converter
	store     ObjectStore
	bucket    string
	linkTTL   time.Duration
	log       *logger.Logger
	now       func() time.Time
}

func NewContractGenerator(converter Converter, store ObjectStore, bucket string, log *logger.Logger) *ContractGenerator {
	return &ContractGenerator{
		converter: converter,
		store:     store,
		bucket:    bucket,
		linkTTL:   storage.DefaultDownloadTTL,
		log:       log,
		now:       time.Now,
	}
}

type contractData struct {
	executor.ContractRequest
	IssuedOn string
	QRCode   template.URL
}

func (g *ContractGenerator) GenerateContract(ctx context.Context, req executor.ContractRequest) (executor.ContractDocument, error) {
	html, err := g.render(req)
	if err != nil {
		return executor.ContractDocument{}, err
	}

	pdfBytes, err := g.converter.ConvertHTML(ctx, html, DefaultContentOpts())
	if err != nil {
		return executor.ContractDocument{}, err
	}

	folder := path.Join("contracts", req.LocationID)
	key, err := g.store.UploadFile(ctx, g.bucket, folder, "contract-"+req.QuoteID+".pdf", "application/pdf",
		bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return executor.ContractDocument{}, err
	}

	link, err := g.store.GenerateDownloadURL(ctx, g.bucket, key, g.linkTTL)
	if err != nil {
		return executor.ContractDocument{}, err
	}

	g.log.Info("contract generated", "locationId", req.LocationID, "quoteId", req.QuoteID, "key", key, "bytes", len(pdfBytes))
	return executor.ContractDocument{URL: link.URL, ObjectKey: key}, nil
}

func (g *ContractGenerator) render(req executor.ContractRequest) ([]byte, error) {
	data := contractData{
		ContractRequest: req,
		IssuedOn:        g.now().UTC().Format("January 2, 2006"),
	}
	if req.SignURL != "" {
		png, err := qrcode.Encode(req.SignURL, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encode signing qr: %w", err)
		}
		data.QRCode = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	}

	var buf bytes.Buffer
	if err := contractTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render contract: %w", err)
	}
	return buf.Bytes(), nil
}

var _ executor.ContractGenerator = (*ContractGenerator)(nil)
