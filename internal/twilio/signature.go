// Package twilio implements the provider side of the voice webhook:
// request signature checks and TwiML response rendering.
package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Sign computes the request signature for url and form using secret.
// The payload is the url followed by every form key in ascending order,
// each key immediately followed by each of its values in order.
func Sign(rawURL string, form url.Values, secret string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(rawURL)
	for _, k := range keys {
		for _, v := range form[k] {
			payload.WriteString(k)
			payload.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the one computed for url and
// form. rawURL must be the externally visible URL the provider called,
// not the address the request arrived on locally.
func Verify(signature, rawURL string, form url.Values, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected := Sign(rawURL, form, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PublicURL joins the configured public base URL with the request path and
// raw query.
func PublicURL(baseURL, path, rawQuery string) string {
	u := strings.TrimRight(baseURL, "/") + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}
