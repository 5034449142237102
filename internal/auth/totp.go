package auth

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultTOTPIssuer = "Office Management System"

	totpPeriod = 30
	// totpSkew accepts codes up to two steps (60s) either side of now.
	totpSkew   = 2
	qrCodeSize = 256
)

// TOTP generates enrollment material and checks RFC 6238 codes.
type TOTP struct {
	issuer string
}

// NewTOTP returns an engine labelling authenticator entries with issuer.
func NewTOTP(issuer string) *TOTP {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = DefaultTOTPIssuer
	}
	return &TOTP{issuer: issuer}
}

// Enroll creates a fresh base32 secret for accountLabel along with its
// otpauth URI and a PNG QR code rendered as a data URL.
func (t *TOTP) Enroll(accountLabel string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountLabel,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("%w: generate totp secret: %v", ErrCredential, err)
	}
	qrCode, err := renderQRCode(key.URL())
	if err != nil {
		return Enrollment{}, fmt.Errorf("%w: render qr code: %v", ErrCredential, err)
	}
	return Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          qrCode,
	}, nil
}

// Verify reports whether code is valid for secret at the given instant.
func (t *TOTP) Verify(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func renderQRCode(uri string) (string, error) {
	code, err := qr.Encode(uri, qr.M, qr.Auto)
	if err != nil {
		return "", err
	}
	code, err = barcode.Scale(code, qrCodeSize, qrCodeSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
