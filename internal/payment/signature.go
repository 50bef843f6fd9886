package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Sat-14/Crypto-bot/internal/model"
)

// canonicalize re-encodes a decoded JSON value with all object keys
// sorted recursively, matching the form the gateway signs.
func canonicalize(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, vb...)
		}
		return append(out, '}'), nil
	case []interface{}:
		out := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := canonicalize(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		return append(out, ']'), nil
	default:
		return json.Marshal(val)
	}
}

// Sign computes the hex HMAC-SHA512 of the canonical form of body.
func Sign(body []byte, secret string) (string, error) {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode notification body: %w", err)
	}

	canonical, err := canonicalize(decoded)
	if err != nil {
		return "", fmt.Errorf("canonicalize notification body: %w", err)
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks a notification signature in constant time.
func VerifySignature(body []byte, signature, secret string) error {
	expected, err := Sign(body, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return model.ErrBadSignature
	}
	return nil
}
