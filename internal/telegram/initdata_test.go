package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testBotToken = "7000000001:AAtestbottokenfortestsonly"

func signedInitData(t *testing.T, overrides map[string]string) string {
	t.Helper()
	fields := map[string]string{
		"auth_date": "1756600000",
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":42,"first_name":"Alice","username":"alice"}`,
	}
	for key, val := range overrides {
		fields[key] = val
	}
	return SignInitData(fields, testBotToken)
}

func TestVerifyInitData(t *testing.T) {
	t.Run("accepts a correctly signed payload", func(t *testing.T) {
		data, err := VerifyInitData(signedInitData(t, nil), testBotToken)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), data.User.ID)
		assert.Equal(t, "alice", data.User.Username)
		assert.Equal(t, "Alice", data.User.FirstName)
		assert.Equal(t, "1756600000", data.AuthDate)
	})

	t.Run("rejects a payload signed with a different token", func(t *testing.T) {
		raw := SignInitData(map[string]string{
			"auth_date": "1756600000",
			"user":      `{"id":42,"first_name":"Alice"}`,
		}, "other-token")

		_, err := VerifyInitData(raw, testBotToken)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("rejects any tampered field", func(t *testing.T) {
		raw := signedInitData(t, nil)
		tampered := strings.Replace(raw, "alice", "mallory", 1)
		assert.NotEqual(t, raw, tampered)

		_, err := VerifyInitData(tampered, testBotToken)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("rejects a tampered hash", func(t *testing.T) {
		raw := signedInitData(t, nil)
		var flipped string
		if strings.Contains(raw, "hash=a") {
			flipped = strings.Replace(raw, "hash=a", "hash=b", 1)
		} else {
			flipped = strings.Replace(raw, "hash=", "hash=a", 1)
		}

		_, err := VerifyInitData(flipped, testBotToken)
		assert.Error(t, err)
	})

	t.Run("malformed payloads", func(t *testing.T) {
		cases := map[string]string{
			"empty":              "",
			"whitespace":         "   ",
			"no hash":            "auth_date=1&user=%7B%22id%22%3A1%7D",
			"non-hex hash":       "auth_date=1&hash=zzzz",
			"short hash":         "auth_date=1&hash=abcd",
			"bad query encoding": "a=%zz&hash=" + strings.Repeat("ab", 32),
			"duplicate key":      signedInitData(t, nil) + "&auth_date=2",
		}
		for name, raw := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := VerifyInitData(raw, testBotToken)
				assert.ErrorIs(t, err, ErrMalformedInitData)
			})
		}
	})

	t.Run("signed payload without user is rejected", func(t *testing.T) {
		raw := SignInitData(map[string]string{"auth_date": "1756600000"}, testBotToken)
		_, err := VerifyInitData(raw, testBotToken)
		assert.ErrorIs(t, err, ErrMalformedInitData)
	})

	t.Run("signed payload with invalid user id is rejected", func(t *testing.T) {
		raw := signedInitData(t, map[string]string{"user": `{"id":0,"first_name":"Ghost"}`})
		_, err := VerifyInitData(raw, testBotToken)
		assert.ErrorIs(t, err, ErrMalformedInitData)
	})

	t.Run("verification is symmetric with signing", func(t *testing.T) {
		// Values with characters that need query escaping survive the
		// encode/verify round trip.
		raw := signedInitData(t, map[string]string{
			"user": `{"id":7,"first_name":"Zoë & co","username":"zoe"}`,
		})
		data, err := VerifyInitData(raw, testBotToken)
		assert.NoError(t, err)
		assert.Equal(t, "Zoë & co", data.User.FirstName)
	})
}
