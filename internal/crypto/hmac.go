package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// BodyMAC returns hex(HMAC-SHA256(secret, timestamp + "." + body)). The
// timestamp is Unix seconds and binds the signature to the delivery time.
func BodyMAC(secret string, unixTS int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(unixTS, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyBodyMAC reports whether sig is the BodyMAC of body.
func VerifyBodyMAC(secret string, unixTS int64, body []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(BodyMAC(secret, unixTS, body))
	return hmac.Equal(got, want)
}
