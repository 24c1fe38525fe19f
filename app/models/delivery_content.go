package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DeliveryContentType tags the delivery payload union.
type DeliveryContentType string

const (
	ContentTypeLicenseKey         DeliveryContentType = "LICENSE_KEY"
	ContentTypeDownloadURL        DeliveryContentType = "DOWNLOAD_URL"
	ContentTypeAccessCredentials  DeliveryContentType = "ACCESS_CREDENTIALS"
	ContentTypeSubscriptionAccess DeliveryContentType = "SUBSCRIPTION_ACCESS"
)

// SubscriptionCredentials carries generated credentials for subscription access.
type SubscriptionCredentials struct {
	APIKey   string `json:"api_key,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// DeliveryContent is the tagged union persisted as a delivery payload.
// Only the fields belonging to the tagged variant are populated:
//
//	LICENSE_KEY         -> LicenseKey
//	DOWNLOAD_URL        -> DownloadURL, DownloadExpiry, optional LicenseKey
//	ACCESS_CREDENTIALS  -> Metadata
//	SUBSCRIPTION_ACCESS -> Credentials
type DeliveryContent struct {
	Type           DeliveryContentType      `json:"type"`
	LicenseKey     string                   `json:"license_key,omitempty"`
	DownloadURL    string                   `json:"download_url,omitempty"`
	DownloadExpiry *time.Time               `json:"download_expiry,omitempty"`
	Credentials    *SubscriptionCredentials `json:"credentials,omitempty"`
	Instructions   string                   `json:"instructions,omitempty"`
	Metadata       map[string]interface{}   `json:"metadata,omitempty"`
}

// Validate checks that the tagged variant carries its required fields.
func (c DeliveryContent) Validate() error {
	switch c.Type {
	case ContentTypeLicenseKey:
		if c.LicenseKey == "" {
			return errors.New("LICENSE_KEY content requires a license key")
		}
	case ContentTypeDownloadURL:
		if c.DownloadURL == "" {
			return errors.New("DOWNLOAD_URL content requires a download url")
		}
		if c.DownloadExpiry == nil {
			return errors.New("DOWNLOAD_URL content requires a download expiry")
		}
	case ContentTypeAccessCredentials:
		// Metadata is optional by contract.
	case ContentTypeSubscriptionAccess:
		if c.Credentials == nil {
			return errors.New("SUBSCRIPTION_ACCESS content requires credentials")
		}
	default:
		return fmt.Errorf("unknown delivery content type: %s", c.Type)
	}
	return nil
}

// IsDownloadExpired reports whether a DOWNLOAD_URL payload is past its expiry.
func (c DeliveryContent) IsDownloadExpired(now time.Time) bool {
	if c.Type != ContentTypeDownloadURL || c.DownloadExpiry == nil {
		return false
	}
	return now.After(*c.DownloadExpiry)
}

// Value implements driver.Valuer so the union is stored as a JSON column.
func (c DeliveryContent) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery content: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for reading the JSON column back.
func (c *DeliveryContent) Scan(value interface{}) error {
	if value == nil {
		*c = DeliveryContent{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported delivery content column type %T", value)
	}

	if len(data) == 0 {
		*c = DeliveryContent{}
		return nil
	}
	return json.Unmarshal(data, c)
}
