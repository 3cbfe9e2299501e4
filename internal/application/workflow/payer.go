package workflow

import "strings"

// PayerUnknown is returned when an insurance provider matches no known payer
const PayerUnknown = "UNKNOWN"

// payerAliases is evaluated in order; the first substring match wins
var payerAliases = []struct {
	alias   string
	payerID string
}{
	{"daman", "DAMAN"},
	{"adnic", "ADNIC"},
	{"thiqa", "THIQA"},
	{"bupa", "BUPA"},
	{"abu dhabi national insurance", "ADNIC"},
	{"daman national health", "DAMAN"},
	{"thiqa insurance", "THIQA"},
}

// MapPayer maps an insurance provider name to a payer identifier using a
// case-insensitive substring match. Unmatched names map to PayerUnknown.
func MapPayer(provider string) string {
	name := strings.ToLower(provider)
	for _, a := range payerAliases {
		if strings.Contains(name, a.alias) {
			return a.payerID
		}
	}
	return PayerUnknown
}
