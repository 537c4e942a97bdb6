package service

import (
	"time"

	"golang.org/x/oauth2"
)

// tokenExpiry is the instant token stops being usable. LinkedIn omits
// expires_in on some responses; those tokens get the documented 60 day life.
func tokenExpiry(token *oauth2.Token, now time.Time) time.Time {
	if token.Expiry.IsZero() {
		return now.Add(defaultTokenLifetime).UTC()
	}
	return token.Expiry.UTC()
}
