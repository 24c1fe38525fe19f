package fulfillment

import (
	"fmt"
	"time"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/internal/pkg/keygen"
)

const (
	// DownloadValidity is how long a generated download link stays usable.
	DownloadValidity = 7 * 24 * time.Hour

	// serviceLeadTime is the default completion estimate for service products.
	serviceLeadTime = 72 * time.Hour
)

// GeneratedContent bundles the payload with the secrets the dispatcher needs
// outside of it (the raw download token for URL routing).
type GeneratedContent struct {
	Content       models.DeliveryContent
	DownloadToken string
}

// ContentGenerator produces type-specific fulfillment payloads. It is pure
// apart from the injected random source: no lookups, no persistence.
type ContentGenerator struct {
	keys    *keygen.Generator
	clock   Clock
	baseURL string
}

// NewContentGenerator creates a generator. baseURL is the public origin
// download URLs are rooted at.
func NewContentGenerator(keys *keygen.Generator, clock Clock, baseURL string) *ContentGenerator {
	if clock == nil {
		clock = SystemClock()
	}
	return &ContentGenerator{keys: keys, clock: clock, baseURL: baseURL}
}

// Generate builds the delivery payload for a product/variant pair.
// Unknown product types fall back to a bare license key so no product is
// ever unfulfillable.
func (g *ContentGenerator) Generate(product *models.Product, variant *models.ProductVariant) (*GeneratedContent, error) {
	switch product.Type {
	case models.ProductTypeDigital:
		return g.generateDigital()
	case models.ProductTypeSubscription:
		return g.generateSubscription()
	case models.ProductTypeService:
		return g.generateService()
	default:
		return g.generateLicenseFallback()
	}
}

func (g *ContentGenerator) generateDigital() (*GeneratedContent, error) {
	token, err := g.keys.DownloadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate download token: %w", err)
	}
	licenseKey, err := g.keys.LicenseKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate license key: %w", err)
	}

	expiry := g.clock.Now().Add(DownloadValidity)
	return &GeneratedContent{
		Content: models.DeliveryContent{
			Type:           models.ContentTypeDownloadURL,
			DownloadURL:    fmt.Sprintf("%s/dl/%s", g.baseURL, token),
			DownloadExpiry: &expiry,
			LicenseKey:     licenseKey,
			Instructions:   "Use the download link within 7 days. Your license key activates the software after installation.",
		},
		DownloadToken: token,
	}, nil
}

func (g *ContentGenerator) generateSubscription() (*GeneratedContent, error) {
	apiKey, err := g.keys.APIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	return &GeneratedContent{
		Content: models.DeliveryContent{
			Type: models.ContentTypeSubscriptionAccess,
			Credentials: &models.SubscriptionCredentials{
				APIKey: apiKey,
			},
			Instructions: "Authenticate API requests with the X-API-Key header.",
		},
	}, nil
}

func (g *ContentGenerator) generateService() (*GeneratedContent, error) {
	estimated := g.clock.Now().Add(serviceLeadTime)
	return &GeneratedContent{
		Content: models.DeliveryContent{
			Type: models.ContentTypeAccessCredentials,
			Metadata: map[string]interface{}{
				"service_started":      true,
				"estimated_completion": estimated.UTC().Format(time.RFC3339),
			},
			Instructions: "Our team has started working on your service order.",
		},
	}, nil
}

func (g *ContentGenerator) generateLicenseFallback() (*GeneratedContent, error) {
	licenseKey, err := g.keys.LicenseKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate license key: %w", err)
	}

	return &GeneratedContent{
		Content: models.DeliveryContent{
			Type:       models.ContentTypeLicenseKey,
			LicenseKey: licenseKey,
		},
	}, nil
}
