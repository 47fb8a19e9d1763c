package security

import (
	"fmt"
	"strings"

	"github.com/teracrafts/flagkit-go/errors"
)

// PII field patterns (case-insensitive matching)
var piiPatterns = []string{
	"email",
	"phone",
	"telephone",
	"mobile",
	"ssn",
	"social_security",
	"credit_card",
	"card_number",
	"cvv",
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"private_key",
	"access_token",
	"refresh_token",
	"auth_token",
	"address",
	"street",
	"zip_code",
	"postal_code",
	"date_of_birth",
	"dob",
	"birth_date",
	"passport",
	"driver_license",
	"national_id",
	"bank_account",
	"routing_number",
	"iban",
	"swift",
}

// IsPotentialPIIField checks if a field name potentially contains PII.
func IsPotentialPIIField(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	lowerName = strings.ReplaceAll(lowerName, "-", "")
	lowerName = strings.ReplaceAll(lowerName, "_", "")

	for _, pattern := range piiPatterns {
		normalized := strings.ReplaceAll(pattern, "_", "")
		if strings.Contains(lowerName, normalized) {
			return true
		}
	}
	return false
}

// DetectPotentialPII walks a map and returns the paths of fields whose
// names look like PII.
func DetectPotentialPII(data map[string]any, prefix string) []string {
	var piiFields []string

	for key, value := range data {
		fullPath := key
		if prefix != "" {
			fullPath = prefix + "." + key
		}

		if IsPotentialPIIField(key) {
			piiFields = append(piiFields, fullPath)
		}

		if nested, ok := value.(map[string]any); ok {
			piiFields = append(piiFields, DetectPotentialPII(nested, fullPath)...)
		}
	}

	return piiFields
}

// PIIDetectionResult contains the result of PII detection.
type PIIDetectionResult struct {
	HasPII  bool
	Fields  []string
	Message string
}

// CheckForPotentialPII checks for potential PII in data and returns a
// detailed result. dataType is "context" or "event" and shapes the advice.
func CheckForPotentialPII(data map[string]any, dataType string) PIIDetectionResult {
	if data == nil {
		return PIIDetectionResult{}
	}

	piiFields := DetectPotentialPII(data, "")
	if len(piiFields) == 0 {
		return PIIDetectionResult{}
	}

	advice := "Consider removing sensitive data from events."
	if dataType == "context" {
		advice = "Consider adding these to privateAttributes."
	}

	return PIIDetectionResult{
		HasPII: true,
		Fields: piiFields,
		Message: fmt.Sprintf(
			"[FlagKit Security] Potential PII detected in %s data: %s. %s",
			dataType, strings.Join(piiFields, ", "), advice),
	}
}

// CheckPIIWithStrictMode checks for PII and returns an error when strict
// mode is enabled; otherwise it logs a warning.
func CheckPIIWithStrictMode(data map[string]any, dataType string, strictMode bool, logger Logger) error {
	result := CheckForPotentialPII(data, dataType)
	if !result.HasPII {
		return nil
	}

	if strictMode {
		return errors.SecurityError(errors.ErrSecurityPIIDetected, result.Message)
	}

	if logger != nil {
		logger.Warn(result.Message)
	}

	return nil
}

// AddPIIPatterns adds custom PII patterns to the detection list.
func AddPIIPatterns(patterns []string) {
	for _, p := range patterns {
		piiPatterns = append(piiPatterns, strings.ToLower(p))
	}
}
