package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Settings section names, each independently addressable.
const (
	SectionPricing     = "pricing"
	SectionMail        = "mail"
	SectionCredentials = "credentials"
)

// ErrUnknownSection is returned for a settings section that doesn't exist.
var ErrUnknownSection = errors.New("unknown settings section")

// Settings is the administrator controlled configuration. Operations
// take a value copy at their start and never look at it again.
type Settings struct {
	Pricing     PricingSettings     `json:"pricing"`
	Mail        MailSettings        `json:"mail"`
	Credentials CredentialsSettings `json:"credentials"`
}

type PricingSettings struct {
	// PricePerWord is in minor currency units.
	PricePerWord int64  `json:"price_per_word" validate:"gte=0"`
	Currency     string `json:"currency" validate:"required,len=3,lowercase"`
}

type MailSettings struct {
	Host       string `json:"host" validate:"omitempty,hostname|ip"`
	Port       int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Sender     string `json:"sender" validate:"omitempty,email"`
	AppBaseURL string `json:"app_base_url" validate:"omitempty,url"`
}

// Configured reports whether outbound mail can be attempted at all.
func (m MailSettings) Configured() bool {
	return m.Host != "" && m.Port != 0
}

type CredentialsSettings struct {
	GenerationAPIKey     string `json:"generation_api_key"`
	PaymentWebhookSecret string `json:"payment_webhook_secret"`
}

// DefaultSettings is what a fresh installation starts with.
func DefaultSettings() Settings {
	return Settings{
		Pricing: PricingSettings{
			PricePerWord: 5,
			Currency:     "usd",
		},
		Mail: MailSettings{
			Port:       587,
			Sender:     "no-reply@example.com",
			AppBaseURL: "http://localhost:8080",
		},
	}
}

// Validate checks every section against its tags.
func (s *Settings) Validate() error {
	return validateStruct(s)
}

// Section returns a pointer to the named section of s.
func (s *Settings) Section(name string) (any, error) {
	switch name {
	case SectionPricing:
		return &s.Pricing, nil
	case SectionMail:
		return &s.Mail, nil
	case SectionCredentials:
		return &s.Credentials, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, name)
	}
}

// SectionNames lists the addressable sections.
func SectionNames() []string {
	return []string{SectionPricing, SectionMail, SectionCredentials}
}

// ApplySection merges a partial JSON document onto one section. Fields
// missing from raw keep their current value, unknown fields are rejected.
// On error s is left untouched.
func (s *Settings) ApplySection(name string, raw []byte) error {
	next := *s
	section, err := next.Section(name)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(section); err != nil {
		return fmt.Errorf("%w: decoding %s section: %v", ErrValidation, name, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	*s = next
	return nil
}

// Redacted returns a copy safe to show on the admin surface.
func (s Settings) Redacted() Settings {
	const mask = "********"
	if s.Mail.Password != "" {
		s.Mail.Password = mask
	}
	if s.Credentials.GenerationAPIKey != "" {
		s.Credentials.GenerationAPIKey = mask
	}
	if s.Credentials.PaymentWebhookSecret != "" {
		s.Credentials.PaymentWebhookSecret = mask
	}
	return s
}
