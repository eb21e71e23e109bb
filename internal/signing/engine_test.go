package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxverify-service/internal/domain"
)

// newSignedLot は新しい鍵で署名済みのロットを返す。
func newSignedLot(t *testing.T) (*domain.LotManifest, []byte) {
	t.Helper()

	pub, seed, err := GenerateIdentity()
	require.NoError(t, err)

	lot := &domain.LotManifest{
		ID:            "lot-1",
		BatchNumber:   "AMX-2026-001",
		ExpiryDate:    time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC),
		DistributorID: "9b2f4c9e-8f0a-4a63-9d56-0b8c8c1f2a10",
	}
	sig, err := SignLot(context.Background(), lot, NewKeySigner(ed25519.NewKeyFromSeed(seed)))
	require.NoError(t, err)
	lot.DigitalSignature = sig
	return lot, pub
}

func TestGenerateIdentity(t *testing.T) {
	pub, seed, err := GenerateIdentity()
	require.NoError(t, err)
	assert.Len(t, pub, domain.PublicKeySize)
	assert.Len(t, seed, SigningKeySize)

	signer := NewKeySigner(ed25519.NewKeyFromSeed(seed))
	assert.Equal(t, pub, signer.PublicKey())
}

func TestCanonicalMessage(t *testing.T) {
	msg := CanonicalMessage("B-42", time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), "dist-7")
	assert.Equal(t, "B-42|2027-01-05|dist-7", string(msg))
}

func TestSignLot_ProducesLowercaseHex(t *testing.T) {
	lot, _ := newSignedLot(t)

	assert.Len(t, lot.DigitalSignature, ed25519.SignatureSize*2)
	assert.Equal(t, strings.ToLower(lot.DigitalSignature), lot.DigitalSignature)
	assert.NoError(t, ValidateSignatureHex(lot.DigitalSignature))
}

func TestVerify_RoundTrip(t *testing.T) {
	lot, pub := newSignedLot(t)
	assert.True(t, Verify(lot, pub))
}

func TestVerify_TamperedFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *domain.LotManifest)
	}{
		{name: "batch number", mutate: func(l *domain.LotManifest) { l.BatchNumber = "AMX-2026-002" }},
		{name: "expiry date", mutate: func(l *domain.LotManifest) { l.ExpiryDate = l.ExpiryDate.AddDate(1, 0, 0) }},
		{name: "distributor", mutate: func(l *domain.LotManifest) { l.DistributorID = "another-distributor" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lot, pub := newSignedLot(t)
			tt.mutate(lot)
			assert.False(t, Verify(lot, pub))
		})
	}
}

func TestVerify_OtherDistributorKey(t *testing.T) {
	lot, _ := newSignedLot(t)
	otherPub, _, err := GenerateIdentity()
	require.NoError(t, err)

	assert.False(t, Verify(lot, otherPub))
}

func TestVerify_MalformedInputNeverPanics(t *testing.T) {
	lot, pub := newSignedLot(t)

	tests := []struct {
		name      string
		signature string
		key       []byte
	}{
		{name: "empty signature", signature: "", key: pub},
		{name: "non-hex signature", signature: "not-a-signature", key: pub},
		{name: "short signature", signature: lot.DigitalSignature[:64], key: pub},
		{name: "nil key", signature: lot.DigitalSignature, key: nil},
		{name: "short key", signature: lot.DigitalSignature, key: pub[:16]},
		{name: "long key", signature: lot.DigitalSignature, key: append(append([]byte{}, pub...), 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := *lot
			l.DigitalSignature = tt.signature
			assert.NotPanics(t, func() {
				assert.False(t, Verify(&l, tt.key))
			})
		})
	}

	assert.False(t, Verify(nil, pub))
}

func TestParseSigningKeyHex(t *testing.T) {
	pub, seed, err := GenerateIdentity()
	require.NoError(t, err)

	fromSeed, err := ParseSigningKeyHex(hex.EncodeToString(seed))
	require.NoError(t, err)
	assert.Equal(t, pub, []byte(fromSeed.Public().(ed25519.PublicKey)))

	fromFull, err := ParseSigningKeyHex(hex.EncodeToString(fromSeed))
	require.NoError(t, err)
	assert.Equal(t, fromSeed, fromFull)

	_, err = ParseSigningKeyHex("xyz")
	assert.ErrorIs(t, err, domain.ErrInvalidSigningKey)

	_, err = ParseSigningKeyHex(hex.EncodeToString(seed[:10]))
	assert.ErrorIs(t, err, domain.ErrInvalidSigningKey)
}

func TestValidateSignatureHex(t *testing.T) {
	assert.ErrorIs(t, ValidateSignatureHex("zz"), domain.ErrInvalidInput)
	assert.ErrorIs(t, ValidateSignatureHex("abcd"), domain.ErrInvalidInput)
}
