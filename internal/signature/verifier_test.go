package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "prodamus-test-secret"

func hmacHex(secret, msg string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		in      string
		want    Scheme
		wantErr bool
	}{
		{"", SchemeRawJSON, false},
		{"raw-json", SchemeRawJSON, false},
		{" Sorted-Form ", SchemeSortedForm, false},
		{"md5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheme(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyRawJSONUsesWireBytes(t *testing.T) {
	v := NewVerifier(testSecret, SchemeRawJSON, "")
	// Key order and spacing differ from any re-encoding; only the wire bytes count.
	body := []byte(`{"payment_status": "success", "order_num":"42"}`)
	sig := hmacHex(testSecret, string(body))

	assert.True(t, v.Verify(body, sig))
	assert.False(t, v.Verify([]byte(`{"order_num":"42","payment_status":"success"}`), sig))
}

func TestVerifyIsDeterministic(t *testing.T) {
	v := NewVerifier(testSecret, SchemeRawJSON, "")
	body := []byte(`{"payment_status":"success","order_num":"42"}`)
	sig, err := v.Sign(body)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.True(t, v.Verify(body, sig))
	}
	again, err := v.Sign(body)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestVerifyRejectsAnySingleBitFlip(t *testing.T) {
	v := NewVerifier(testSecret, SchemeRawJSON, "")
	body := []byte(`{"payment_status":"success","order_num":"42"}`)
	sig, err := v.Sign(body)
	require.NoError(t, err)

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), body...)
			tampered[i] ^= 1 << bit
			if v.Verify(tampered, sig) {
				t.Fatalf("tampered body at byte %d bit %d still verified", i, bit)
			}
		}
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	v := NewVerifier(testSecret, SchemeRawJSON, "")
	body := []byte(`{"payment_status":"success","order_num":"42"}`)

	assert.False(t, v.Verify(body, ""))
	assert.False(t, v.Verify(body, "   "))
	assert.False(t, v.Verify(nil, ""))
}

func TestVerifyNormalizesClaimedSignature(t *testing.T) {
	v := NewVerifier(testSecret, SchemeRawJSON, "sha256=")
	body := []byte(`{"order_num":"1"}`)
	sig := hmacHex(testSecret, string(body))

	assert.True(t, v.Verify(body, sig))
	assert.True(t, v.Verify(body, "  "+strings.ToUpper(sig)+"\n"))
	assert.True(t, v.Verify(body, "sha256="+sig))
	assert.True(t, v.Verify(body, "SHA256= "+sig))
	assert.False(t, v.Verify(body, "sha256="))
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	v := NewVerifier(testSecret, SchemeRawJSON, "")
	body := []byte(`{"order_num":"1"}`)
	sig := hmacHex(testSecret, string(body))

	assert.False(t, v.Verify(body, "not-hex"))
	assert.False(t, v.Verify(body, sig[:len(sig)-2]))
	assert.False(t, v.Verify(body, sig+"00"))
}

func TestVerifyFailsClosedWithoutSecret(t *testing.T) {
	v := NewVerifier("", SchemeRawJSON, "")
	body := []byte(`{}`)
	assert.False(t, v.Verify(body, hmacHex("", "{}")))

	_, err := v.Sign(body)
	assert.Error(t, err)
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, SchemeRawJSON, "")
	body := []byte(`{"order_num":"1"}`)
	assert.False(t, v.Verify(body, hmacHex("other-secret", string(body))))
}

func TestSortedFormCanonicalization(t *testing.T) {
	v := NewVerifier(testSecret, SchemeSortedForm, "")
	body := []byte("order_num=42&payment_status=success&customer_email=a%40b.example&sign=ignored")

	canonical, err := v.CanonicalBytes(body)
	require.NoError(t, err)
	assert.Equal(t, "customer_email=a@b.example&order_num=42&payment_status=success", string(canonical))

	sig := hmacHex(testSecret, string(canonical))
	assert.True(t, v.Verify(body, sig))

	// Field order on the wire does not matter for this scheme.
	reordered := []byte("payment_status=success&customer_email=a%40b.example&order_num=42")
	assert.True(t, v.Verify(reordered, sig))

	tampered := []byte("order_num=43&payment_status=success&customer_email=a%40b.example")
	assert.False(t, v.Verify(tampered, sig))
}

func TestSortedFormDecodeErrorFailsClosed(t *testing.T) {
	v := NewVerifier(testSecret, SchemeSortedForm, "")
	body := []byte("order_num=%zz")
	_, err := v.CanonicalBytes(body)
	require.Error(t, err)
	assert.False(t, v.Verify(body, hmacHex(testSecret, "order_num=%zz")))
}

func TestCanonicalFormRepeatedKeys(t *testing.T) {
	values := url.Values{
		"b":         {"2", "1"},
		"a":         {"x"},
		"Signature": {"skip"},
	}
	assert.Equal(t, "a=x&b=2&b=1", string(CanonicalForm(values)))
}
