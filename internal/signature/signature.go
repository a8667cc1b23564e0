// Package signature implements the keyed-digest scheme used on order
// submission, merchant callbacks and order queries. The digest is MD5 over
// the canonicalized parameter set with the merchant's shared secret appended,
// which is what the callback protocol fixes on the wire.
package signature

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	// SignKey is the parameter carrying the digest itself.
	SignKey = "sign"
	// SignTypeKey carries the digest algorithm name and is excluded from
	// canonicalization along with SignKey.
	SignTypeKey = "sign_type"
	// SignType is the only supported algorithm name.
	SignType = "MD5"
)

// Canonicalize drops empty values and the sign/sign_type parameters, sorts
// the remaining keys byte-wise ascending and joins them as k=v pairs with &.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == SignKey || k == SignTypeKey || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Sign computes the hex-encoded digest of the canonicalized params under the
// merchant secret.
func Sign(params map[string]string, secret string) string {
	sum := md5.Sum([]byte(Canonicalize(params) + secret))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest and compares it to the sign parameter. A
// missing sign, any reordered or mutated field, or a wrong secret all fail.
func Verify(params map[string]string, secret string) bool {
	got, ok := params[SignKey]
	if !ok || got == "" {
		return false
	}
	return strings.EqualFold(got, Sign(params, secret))
}
