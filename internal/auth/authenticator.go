package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
)

// ActionPayload is the typed view of a state-changing request that
// gets canonically serialized and verified. The signature itself is
// never part of the payload.
type ActionPayload struct {
	Hotkey                 string
	Coldkey                *string
	UseColdkeyForSignature *bool
	SiteID                 int64
	Code                   string
	SubmittedAt            int64
	Action                 coupon.Action
}

// CanonicalMessage renders the payload in the canonical signing form:
// JSON with lexicographically sorted keys, compact separators and null
// fields omitted. Marshaling a map gives both properties for free.
func (p ActionPayload) CanonicalMessage() ([]byte, error) {
	fields := map[string]any{
		"hotkey":       p.Hotkey,
		"site_id":      p.SiteID,
		"code":         p.Code,
		"submitted_at": p.SubmittedAt,
		"action":       int(p.Action),
	}
	if p.Coldkey != nil {
		fields["coldkey"] = *p.Coldkey
	}
	if p.UseColdkeyForSignature != nil {
		fields["use_coldkey_for_signature"] = *p.UseColdkeyForSignature
	}
	return json.Marshal(fields)
}

// signingAddress picks the identity the signature must verify against:
// the coldkey when the request flags it, the hotkey otherwise.
func (p ActionPayload) signingAddress() string {
	if p.UseColdkeyForSignature != nil && *p.UseColdkeyForSignature && p.Coldkey != nil {
		return *p.Coldkey
	}
	return p.Hotkey
}

// Authenticator verifies signatures of state-changing requests. It is
// pure: verification never mutates state and never panics or returns
// an error for malformed input, only a clean false.
type Authenticator struct{}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator() *Authenticator {
	return &Authenticator{}
}

// Verify reports whether signatureHex is a valid signature of the
// payload's canonical message by the payload's signing identity. Any
// decode or crypto failure is a plain false.
func (a *Authenticator) Verify(payload ActionPayload, signatureHex string) bool {
	message, err := payload.CanonicalMessage()
	if err != nil {
		return false
	}
	return verifyHex(payload.signingAddress(), message, signatureHex)
}

// Diagnostics reassembles the verification inputs for debugging a
// failed signature. Only attached to errors outside production mode.
func (a *Authenticator) Diagnostics(payload ActionPayload, signatureHex string) map[string]any {
	message, _ := payload.CanonicalMessage()
	usedKeyType := "hotkey"
	if payload.UseColdkeyForSignature != nil && *payload.UseColdkeyForSignature {
		usedKeyType = "coldkey"
	}
	return map[string]any{
		"canonical_message": string(message),
		"used_key":          payload.signingAddress(),
		"used_key_type":     usedKeyType,
		"signature":         signatureHex,
		"action":            int(payload.Action),
		"tips": []string{
			"ensure the wallet used matches the selected key type (hotkey vs coldkey)",
			"sign the exact canonical message string (sorted keys, compact separators, nulls omitted)",
			"pass the signature hex-encoded without 0x prefix",
			"submitted_at and site_id must be identical between signer and request",
		},
	}
}

// VerifyPeerAuth checks a peer feed authorization: the nonce (unix
// milliseconds) signed by the claimed validator hotkey over the
// canonical {"hotkey", "nonce"} payload.
func (a *Authenticator) VerifyPeerAuth(hotkey string, nonce int64, signatureHex string) bool {
	message, err := peerAuthMessage(hotkey, nonce)
	if err != nil {
		return false
	}
	return verifyHex(hotkey, message, signatureHex)
}

func peerAuthMessage(hotkey string, nonce int64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"hotkey": hotkey,
		"nonce":  nonce,
	})
}

func verifyHex(address string, message []byte, signatureHex string) bool {
	pub, err := DecodeSS58(address)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// Keypair is this validator's signing identity, loaded from the
// configured ed25519 seed. It signs outbound peer requests.
type Keypair struct {
	hotkey string
	priv   ed25519.PrivateKey
}

// NewKeypair builds a Keypair from a hex-encoded ed25519 seed and its
// SS58 hotkey address, and checks that the two match.
func NewKeypair(hotkey, seedHex string) (*Keypair, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)

	pub, err := DecodeSS58(hotkey)
	if err != nil {
		return nil, fmt.Errorf("decode hotkey: %w", err)
	}
	if !pub.Equal(priv.Public().(ed25519.PublicKey)) {
		return nil, fmt.Errorf("hotkey %s does not match the signing key seed", hotkey)
	}
	return &Keypair{hotkey: hotkey, priv: priv}, nil
}

// Hotkey returns this validator's SS58 address.
func (k *Keypair) Hotkey() string { return k.hotkey }

// SignAction signs the canonical message of an action payload and
// returns the hex signature.
func (k *Keypair) SignAction(payload ActionPayload) (string, error) {
	message, err := payload.CanonicalMessage()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(k.priv, message)), nil
}

// SignPeerAuth produces the "hotkey.nonce.signature" authorization
// value a peer feed accepts to lift the submit-window filter.
func (k *Keypair) SignPeerAuth(nonce int64) (string, error) {
	message, err := peerAuthMessage(k.hotkey, nonce)
	if err != nil {
		return "", err
	}
	sig := hex.EncodeToString(ed25519.Sign(k.priv, message))
	return fmt.Sprintf("%s.%d.%s", k.hotkey, nonce, sig), nil
}
