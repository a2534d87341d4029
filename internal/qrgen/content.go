package qrgen

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
)

// MaxContentBytes is the byte-mode capacity of a version 40 symbol at level L.
const MaxContentBytes = 2953

const (
	TypeURL   = "url"
	TypeText  = "text"
	TypeEmail = "email"
	TypePhone = "phone"
	TypeSMS   = "sms"
	TypeWiFi  = "wifi"
	TypeVCard = "vcard"
)

var allowedTypes = map[string]struct{}{
	TypeURL:   {},
	TypeText:  {},
	TypeEmail: {},
	TypePhone: {},
	TypeSMS:   {},
	TypeWiFi:  {},
	TypeVCard: {},
}

// Types returns the supported content types in display order.
func Types() []string {
	return []string{TypeURL, TypeText, TypeEmail, TypePhone, TypeSMS, TypeWiFi, TypeVCard}
}

func IsValidType(t string) bool {
	_, ok := allowedTypes[t]
	return ok
}

// ContentError describes why content was rejected. It matches apperrors.ErrInvalidInput.
type ContentError struct {
	msg string
}

func (e *ContentError) Error() string { return e.msg }

func (e *ContentError) Unwrap() error { return apperrors.ErrInvalidInput }

func invalid(msg string) error { return &ContentError{msg: msg} }

var validate = validator.New()

// EncodeContent validates content for qrType and returns the string to encode in the symbol.
func EncodeContent(qrType, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalid("content is required")
	}
	if len(content) > MaxContentBytes {
		return "", invalid("content is too long")
	}
	switch qrType {
	case TypeURL:
		u, err := url.ParseRequestURI(content)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", invalid("content must be a valid http(s) URL")
		}
		return content, nil
	case TypeText:
		return content, nil
	case TypeEmail:
		addr := trimPrefixFold(content, "mailto:")
		if validate.Var(addr, "required,email") != nil {
			return "", invalid("content must be a valid email address")
		}
		return "mailto:" + addr, nil
	case TypePhone:
		num, ok := normalizePhone(trimPrefixFold(content, "tel:"))
		if !ok {
			return "", invalid("content must be a valid phone number")
		}
		return "tel:" + num, nil
	case TypeSMS:
		rest := trimPrefixFold(content, "SMSTO:")
		number, message, _ := strings.Cut(rest, ":")
		num, ok := normalizePhone(number)
		if !ok {
			return "", invalid("content must start with a valid phone number")
		}
		if message == "" {
			return "SMSTO:" + num, nil
		}
		return "SMSTO:" + num + ":" + message, nil
	case TypeWiFi:
		if !strings.HasPrefix(strings.ToUpper(content), "WIFI:") || !strings.Contains(content, "S:") {
			return "", invalid("content must be a WIFI: payload with an S: (ssid) field")
		}
		return content, nil
	case TypeVCard:
		upper := strings.ToUpper(content)
		if !strings.HasPrefix(upper, "BEGIN:VCARD") || !strings.Contains(upper, "END:VCARD") {
			return "", invalid("content must be a vCard (BEGIN:VCARD ... END:VCARD)")
		}
		return content, nil
	default:
		return "", invalid("type must be one of " + strings.Join(Types(), ", "))
	}
}

// WiFiPayload builds the de-facto standard network join string.
func WiFiPayload(ssid, password, auth string, hidden bool) string {
	auth = strings.ToUpper(strings.TrimSpace(auth))
	switch auth {
	case "WPA", "WEP", "NOPASS":
	case "", "WPA2", "WPA3":
		auth = "WPA"
	default:
		auth = "WPA"
	}
	var b strings.Builder
	b.WriteString("WIFI:T:")
	if auth == "NOPASS" {
		b.WriteString("nopass")
	} else {
		b.WriteString(auth)
	}
	b.WriteString(";S:")
	b.WriteString(escapeWiFi(ssid))
	b.WriteString(";")
	if auth != "NOPASS" && password != "" {
		b.WriteString("P:")
		b.WriteString(escapeWiFi(password))
		b.WriteString(";")
	}
	if hidden {
		b.WriteString("H:true;")
	}
	b.WriteString(";")
	return b.String()
}

var wifiEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, `:`, `\:`, `"`, `\"`)

func escapeWiFi(s string) string {
	return wifiEscaper.Replace(s)
}

func trimPrefixFold(s, prefix string) string {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return s
}

func normalizePhone(s string) (string, bool) {
	var b strings.Builder
	digits := 0
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	if digits < 3 || digits > 15 {
		return "", false
	}
	return b.String(), true
}
