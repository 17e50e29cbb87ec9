package core

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone parses a phone number for the given default region and
// returns it as an MSISDN: E.164 digits without the leading plus, which is
// the party id format the mobile-money gateway expects.
func NormalizePhone(number, region string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", invalidInput("phone number is required")
	}
	p, err := libphonenumber.Parse(number, strings.ToUpper(region))
	if err != nil {
		return "", invalidInput("phone number: " + err.Error())
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", invalidInput("phone number is not valid")
	}
	return strings.TrimPrefix(libphonenumber.Format(p, libphonenumber.E164), "+"), nil
}
