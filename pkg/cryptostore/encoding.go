package cryptostore

import (
	"encoding/json"
	"time"
)

// wireCredentials is the plaintext JSON shape sealed inside the ciphertext.
type wireCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
}

func encodeCredentials(c Credentials) ([]byte, error) {
	return json.Marshal(wireCredentials{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
		Scopes:       c.Scopes,
	})
}

func decodeCredentials(b []byte) (Credentials, error) {
	var w wireCredentials
	if err := json.Unmarshal(b, &w); err != nil {
		return Credentials{}, err
	}
	return Credentials{
		AccessToken:  w.AccessToken,
		RefreshToken: w.RefreshToken,
		ExpiresAt:    w.ExpiresAt,
		Scopes:       w.Scopes,
	}, nil
}
