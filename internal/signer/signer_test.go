package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSignMatchesHMAC(t *testing.T) {
	payload := []byte(`{"event":"order.created","data":{"orderId":"O1"}}`)
	mac := hmac.New(sha256.New, []byte("abc"))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))

	if got := Sign(payload, "abc"); got != want {
		t.Fatalf("Sign() = %s, want %s", got, want)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	cases := []struct {
		payload []byte
		secret  string
	}{
		{[]byte(`{}`), "abc"},
		{[]byte(`{"a":1,"b":[1,2,3]}`), "s3cr3t"},
		{[]byte{}, "k"},
		{[]byte{0x00, 0xff, 0x10}, ""},
	}
	for _, tc := range cases {
		sig := Sign(tc.payload, tc.secret)
		if !Verify(tc.payload, sig, tc.secret) {
			t.Errorf("Verify(%q, Sign(...), %q) = false", tc.payload, tc.secret)
		}
	}
}

func TestVerifyRejectsSingleByteMutation(t *testing.T) {
	payload := []byte(`{"event":"contact.created","data":{"id":"c1"}}`)
	secret := "abc"
	sig := Sign(payload, secret)

	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		if Verify(mutated, sig, secret) {
			t.Fatalf("payload mutation at byte %d still verified", i)
		}
	}
	for i := range secret {
		b := []byte(secret)
		b[i] ^= 0x01
		if Verify(payload, sig, string(b)) {
			t.Fatalf("secret mutation at byte %d still verified", i)
		}
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	payload := []byte(`{}`)
	if Verify(payload, "not-hex", "abc") {
		t.Fatal("expected malformed signature to fail")
	}
	if Verify(payload, "", "abc") {
		t.Fatal("expected empty signature to fail")
	}
	sig := Sign(payload, "abc")
	if Verify(payload, sig[:len(sig)-2], "abc") {
		t.Fatal("expected truncated signature to fail")
	}
}
