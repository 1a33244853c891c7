package entity

import (
	"regexp"
	"strconv"
)

// OfferAmount is the machine-parseable part of a price-offer message.
type OfferAmount struct {
	Currency string  `json:"currency" firestore:"currency"`
	Value    float64 `json:"value" firestore:"value"`
}

// offerPattern: a currency-code prefix followed by a positive decimal with
// at most two fraction digits, e.g. "AED250" or "USD 19.99".
var offerPattern = regexp.MustCompile(`^([A-Z]{3})\s*([0-9]+(?:\.[0-9]{1,2})?)$`)

// ParsePriceOffer parses body as a price offer. ok is false when the body
// does not match the recognized pattern or the amount is not positive.
func ParsePriceOffer(body string) (*OfferAmount, bool) {
	m := offerPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	value, err := strconv.ParseFloat(m[2], 64)
	if err != nil || value <= 0 {
		return nil, false
	}
	return &OfferAmount{Currency: m[1], Value: value}, true
}

// LooksLikePriceOffer is the advisory classifier used at the UI boundary to
// surface a "send as price offer" affordance. The relay re-validates on its
// own; this result is never trusted server-side.
func LooksLikePriceOffer(body string) bool {
	_, ok := ParsePriceOffer(body)
	return ok
}
