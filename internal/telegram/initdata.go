package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrMalformedInitData covers any input that cannot be parsed as a
	// Telegram WebApp init-data payload: bad query encoding, duplicated
	// keys, a missing or non-hex hash field, or an undecodable user object.
	ErrMalformedInitData = errors.New("telegram: malformed init data")

	// ErrInvalidSignature means the payload parsed but its hash does not
	// match the HMAC computed with the bot token.
	ErrInvalidSignature = errors.New("telegram: init data signature mismatch")
)

// InitData is a verified WebApp init-data payload. User is only trustworthy
// when the value was produced by VerifyInitData.
type InitData struct {
	User     WebAppUser
	QueryID  string
	AuthDate string
}

// WebAppUser is the user object Telegram embeds in init data.
type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// VerifyInitData checks that raw init data was signed by Telegram for the
// given bot token and extracts the claimed user identity.
//
// The data-check string is the payload's key=value pairs (hash removed),
// sorted by key and joined with newlines; the signing key is
// HMAC-SHA256("WebAppData", botToken). Every failure mode is returned as an
// error, never a panic, so callers can map all of them to a 401.
func VerifyInitData(raw, botToken string) (*InitData, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMalformedInitData
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, ErrMalformedInitData
	}

	fields := make(map[string]string, len(values))
	for key, vals := range values {
		if key == "" || len(vals) != 1 {
			return nil, ErrMalformedInitData
		}
		fields[key] = vals[0]
	}

	suppliedHex, ok := fields["hash"]
	if !ok {
		return nil, ErrMalformedInitData
	}
	delete(fields, "hash")

	supplied, err := hex.DecodeString(suppliedHex)
	if err != nil || len(supplied) != sha256.Size {
		return nil, ErrMalformedInitData
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+fields[key])
	}
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))

	if !hmac.Equal(mac.Sum(nil), supplied) {
		return nil, ErrInvalidSignature
	}

	data := &InitData{
		QueryID:  fields["query_id"],
		AuthDate: fields["auth_date"],
	}

	userJSON, ok := fields["user"]
	if !ok {
		return nil, fmt.Errorf("%w: missing user field", ErrMalformedInitData)
	}
	if err := json.Unmarshal([]byte(userJSON), &data.User); err != nil {
		return nil, fmt.Errorf("%w: bad user object", ErrMalformedInitData)
	}
	if data.User.ID <= 0 {
		return nil, fmt.Errorf("%w: bad user id", ErrMalformedInitData)
	}

	return data, nil
}

// SignInitData produces a correctly hashed init-data string for the given
// fields. Used by tests and local tooling; the inverse of VerifyInitData.
func SignInitData(fields map[string]string, botToken string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key != "hash" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+fields[key])
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	query := url.Values{}
	for key, val := range fields {
		if key != "hash" {
			query.Set(key, val)
		}
	}
	query.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return query.Encode()
}
