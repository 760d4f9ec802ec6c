package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+/[A-Z0-9]+$`)
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateSymbol checks a "BASE/QUOTE"-shaped trading symbol, e.g. BTC/JPY.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(strings.ToUpper(symbol)) {
		return fmt.Errorf("invalid symbol format: %q (expected BASE/QUOTE)", symbol)
	}
	return nil
}

// IsValidSymbol is the boolean-returning convenience form of ValidateSymbol.
func IsValidSymbol(symbol string) bool { return ValidateSymbol(symbol) == nil }

// NormalizeSymbol trims surrounding whitespace and upper-cases a symbol; it
// does not add or check the BASE/QUOTE separator.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ExtractBaseCurrency returns the base leg of a BASE/QUOTE symbol.
func ExtractBaseCurrency(symbol string) string {
	parts := strings.SplitN(NormalizeSymbol(symbol), "/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// ExtractQuoteCurrency returns the quote leg of a BASE/QUOTE symbol.
func ExtractQuoteCurrency(symbol string) string {
	parts := strings.SplitN(NormalizeSymbol(symbol), "/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// ValidateSpread rejects non-positive spread percentages.
func ValidateSpread(spreadPct float64) error {
	if spreadPct <= 0 {
		return fmt.Errorf("spread must be > 0, got %v", spreadPct)
	}
	return nil
}

// ValidateVolume rejects non-positive or absurdly large order volumes.
func ValidateVolume(volume float64) error {
	if volume <= 0 {
		return fmt.Errorf("volume must be > 0, got %v", volume)
	}
	if volume > 1e9 {
		return fmt.Errorf("volume too large: %v", volume)
	}
	return nil
}

// ValidateNOrders rejects a split-order count outside [1, 100].
func ValidateNOrders(n int) error {
	if n < 1 || n > 100 {
		return fmt.Errorf("n_orders must be in [1,100], got %d", n)
	}
	return nil
}

// ValidateStopLoss rejects a stop-loss percentage outside (0, 100].
func ValidateStopLoss(pct float64) error {
	if pct <= 0 || pct > 100 {
		return fmt.Errorf("stop_loss_pct must be in (0,100], got %v", pct)
	}
	return nil
}

// ValidateLeverage rejects a leverage multiplier outside [1, 100].
func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > 100 {
		return fmt.Errorf("leverage must be in [1,100], got %d", leverage)
	}
	return nil
}

// ValidatePercentage rejects a fraction-as-percentage outside [0, 100].
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("percentage must be in [0,100], got %v", pct)
	}
	return nil
}

// ValidateConfidence rejects an ML confidence score outside [0, 1].
func ValidateConfidence(confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", confidence)
	}
	return nil
}

// ValidateEmail performs a shallow structural email check.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) || strings.Count(email, "@") != 1 {
		return fmt.Errorf("invalid email format: %q", email)
	}
	return nil
}

// IsValidEmail is the boolean-returning convenience form of ValidateEmail.
func IsValidEmail(email string) bool { return ValidateEmail(email) == nil }

// ValidateAPIKey rejects empty or short API keys and keys containing
// characters other than letters, digits, '_' and '-'.
func ValidateAPIKey(key string) error {
	return validateCredential(key, 16)
}

// IsValidAPIKey is the boolean-returning convenience form of ValidateAPIKey.
func IsValidAPIKey(key string) bool { return ValidateAPIKey(key) == nil }

// ValidateAPISecret rejects empty or short API secrets. Unlike API keys,
// secrets may contain arbitrary symbols.
func ValidateAPISecret(secret string) error {
	trimmed := strings.TrimSpace(secret)
	if len(trimmed) < 16 {
		return fmt.Errorf("api secret must be at least 16 characters")
	}
	return nil
}

// ValidateAPIPassphrase allows an empty passphrase (not every exchange
// requires one) but rejects unreasonably long values.
func ValidateAPIPassphrase(passphrase string) error {
	if len(passphrase) > 64 {
		return fmt.Errorf("api passphrase too long")
	}
	return nil
}

var credentialPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateCredential(value string, minLen int) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("credential must not be empty")
	}
	if len(trimmed) < minLen {
		return fmt.Errorf("credential too short, need at least %d characters", minLen)
	}
	if !credentialPattern.MatchString(trimmed) {
		return fmt.Errorf("credential contains unsupported characters")
	}
	return nil
}

// ValidationErrors accumulates field-scoped validation failures.
type ValidationErrors []ValidationError

// ValidationError is one field's validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Add appends a new field/message pair.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError appends err's message under field, ignoring a nil err.
func (v *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	v.Add(field, err.Error())
}

// HasErrors reports whether any error has been accumulated.
func (v ValidationErrors) HasErrors() bool { return len(v) > 0 }

// Error implements the error interface, joining all accumulated messages.
func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}
