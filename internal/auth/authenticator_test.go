package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
)

func newTestIdentity(t *testing.T) (string, *Keypair) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	address, err := EncodeSS58(pub, 42)
	require.NoError(t, err)

	kp, err := NewKeypair(address, hex.EncodeToString(priv.Seed()))
	require.NoError(t, err)
	return address, kp
}

func TestCanonicalMessage_SortedCompactNullsOmitted(t *testing.T) {
	payload := ActionPayload{
		Hotkey:      "5Abc",
		SiteID:      7,
		Code:        "SAVE20",
		SubmittedAt: 1700000000000,
		Action:      coupon.ActionCreate,
	}

	message, err := payload.CanonicalMessage()
	require.NoError(t, err)

	// Keys sorted, no spaces, optional fields absent.
	assert.Equal(t,
		`{"action":0,"code":"SAVE20","hotkey":"5Abc","site_id":7,"submitted_at":1700000000000}`,
		string(message),
	)
}

func TestCanonicalMessage_IncludesOptionalFieldsWhenSet(t *testing.T) {
	coldkey := "5Cold"
	useColdkey := true
	payload := ActionPayload{
		Hotkey:                 "5Abc",
		Coldkey:                &coldkey,
		UseColdkeyForSignature: &useColdkey,
		SiteID:                 7,
		Code:                   "SAVE20",
		SubmittedAt:            1700000000000,
		Action:                 coupon.ActionDelete,
	}

	message, err := payload.CanonicalMessage()
	require.NoError(t, err)
	assert.Contains(t, string(message), `"coldkey":"5Cold"`)
	assert.Contains(t, string(message), `"use_coldkey_for_signature":true`)
	assert.True(t, strings.HasPrefix(string(message), `{"action":2,`))
}

func TestVerify_RoundTrip(t *testing.T) {
	hotkey, kp := newTestIdentity(t)
	payload := ActionPayload{
		Hotkey:      hotkey,
		SiteID:      1,
		Code:        "WELCOME",
		SubmittedAt: 1700000000000,
		Action:      coupon.ActionCreate,
	}

	sig, err := kp.SignAction(payload)
	require.NoError(t, err)

	a := NewAuthenticator()
	assert.True(t, a.Verify(payload, sig))
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	hotkey, kp := newTestIdentity(t)
	payload := ActionPayload{
		Hotkey:      hotkey,
		SiteID:      1,
		Code:        "WELCOME",
		SubmittedAt: 1700000000000,
		Action:      coupon.ActionCreate,
	}
	sig, err := kp.SignAction(payload)
	require.NoError(t, err)

	a := NewAuthenticator()

	tampered := payload
	tampered.Code = "WELCOME2"
	assert.False(t, a.Verify(tampered, sig))

	tampered = payload
	tampered.SubmittedAt++
	assert.False(t, a.Verify(tampered, sig))

	tampered = payload
	tampered.Action = coupon.ActionDelete
	assert.False(t, a.Verify(tampered, sig))
}

func TestVerify_MalformedInputIsCleanFalse(t *testing.T) {
	a := NewAuthenticator()
	payload := ActionPayload{Hotkey: "not-an-address", SiteID: 1, Code: "X", SubmittedAt: 1, Action: coupon.ActionCreate}

	assert.False(t, a.Verify(payload, "zz-not-hex"))
	assert.False(t, a.Verify(payload, ""))
	assert.False(t, a.Verify(payload, hex.EncodeToString(make([]byte, 10))))
}

func TestVerify_ColdkeySignatureFlag(t *testing.T) {
	hotkey, _ := newTestIdentity(t)
	coldkeyAddr, coldKp := newTestIdentity(t)
	useColdkey := true

	payload := ActionPayload{
		Hotkey:                 hotkey,
		Coldkey:                &coldkeyAddr,
		UseColdkeyForSignature: &useColdkey,
		SiteID:                 3,
		Code:                   "COLDSIGNED",
		SubmittedAt:            1700000000000,
		Action:                 coupon.ActionCreate,
	}

	sig, err := coldKp.SignAction(payload)
	require.NoError(t, err)

	a := NewAuthenticator()
	assert.True(t, a.Verify(payload, sig))

	// Without the flag the hotkey must have signed, so the coldkey
	// signature no longer verifies.
	noFlag := payload
	noFlag.UseColdkeyForSignature = nil
	assert.False(t, a.Verify(noFlag, sig))
}

func TestPeerAuth_RoundTrip(t *testing.T) {
	hotkey, kp := newTestIdentity(t)

	header, err := kp.SignPeerAuth(1700000000000)
	require.NoError(t, err)

	parts := strings.Split(header, ".")
	require.Len(t, parts, 3)
	assert.Equal(t, hotkey, parts[0])
	assert.Equal(t, "1700000000000", parts[1])

	a := NewAuthenticator()
	assert.True(t, a.VerifyPeerAuth(hotkey, 1700000000000, parts[2]))
	assert.False(t, a.VerifyPeerAuth(hotkey, 1700000000001, parts[2]))
}

func TestNewKeypair_RejectsMismatchedHotkey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherAddress, _ := newTestIdentity(t)

	_, err = NewKeypair(otherAddress, hex.EncodeToString(priv.Seed()))
	assert.Error(t, err)
}

func TestSS58_RoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	address, err := EncodeSS58(pub, 42)
	require.NoError(t, err)
	assert.True(t, IsValidSS58(address))

	decoded, err := DecodeSS58(address)
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), []byte(decoded))
}

func TestSS58_RejectsCorruptedAddress(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address, err := EncodeSS58(pub, 42)
	require.NoError(t, err)

	last := address[len(address)-1]
	replacement := byte('a')
	if last == replacement {
		replacement = 'b'
	}
	corrupted := address[:len(address)-1] + string(replacement)
	assert.False(t, IsValidSS58(corrupted))
	assert.False(t, IsValidSS58("hello"))
	assert.False(t, IsValidSS58(""))
}
