package signatures

import (
	"encoding/base64"
	"fmt"
	"strings"

	"clinical-forms-server/internal/models"
)

// PayloadValidator checks that signature data matches the encoding expected
// for its signature type.
type PayloadValidator interface {
	Validate(t models.SignatureType, data string) error
}

// DefaultValidator accepts base64 for digital signatures, base64 or an image
// data URL for electronic signatures, and any non-blank reference for wet
// signatures.
type DefaultValidator struct{}

const maxPayloadBytes = 1 << 20

func (DefaultValidator) Validate(t models.SignatureType, data string) error {
	s := strings.TrimSpace(data)
	if s == "" {
		return fmt.Errorf("%w: empty signature data", models.ErrInvalidSignatureFormat)
	}
	if len(s) > maxPayloadBytes {
		return fmt.Errorf("%w: signature data exceeds %d bytes", models.ErrInvalidSignatureFormat, maxPayloadBytes)
	}

	switch t {
	case models.SignatureDigital:
		if _, err := decodeBase64(s); err != nil {
			return fmt.Errorf("%w: digital signature must be base64", models.ErrInvalidSignatureFormat)
		}
	case models.SignatureElectronic:
		if strings.HasPrefix(s, "data:") {
			return validateDataURL(s)
		}
		if _, err := decodeBase64(s); err != nil {
			return fmt.Errorf("%w: electronic signature must be base64 or an image data URL", models.ErrInvalidSignatureFormat)
		}
	case models.SignatureWet:
	default:
		return fmt.Errorf("%w: unknown signature type %q", models.ErrInvalidSignatureFormat, t)
	}
	return nil
}

func validateDataURL(s string) error {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasPrefix(header, "image/") || !strings.HasSuffix(header, ";base64") {
		return fmt.Errorf("%w: expected data:image/<type>;base64,<data>", models.ErrInvalidSignatureFormat)
	}
	if _, err := decodeBase64(payload); err != nil {
		return fmt.Errorf("%w: data URL payload is not base64", models.ErrInvalidSignatureFormat)
	}
	return nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil && len(b) > 0 {
			return b, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("empty payload")
	}
	return nil, lastErr
}
