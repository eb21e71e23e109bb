package usecase

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"rxverify-service/internal/domain"
	"rxverify-service/internal/signing"
)

// signedLot は販売業者・医薬品・署名済みロットを用意する。
func (f *fixture) signedLot(t *testing.T, batch, expiry string) (*domain.LotManifest, *signing.KeySigner) {
	t.Helper()
	ctx := context.Background()

	prov, err := f.distributors.Register(ctx, RegisterDistributorInput{Name: "Acme Pharma"})
	require.NoError(t, err)
	signer := signing.NewKeySigner(ed25519.NewKeyFromSeed(prov.SigningKey))

	med, err := f.medicines.Create(ctx, CreateMedicineInput{Name: "Amoxicillin", DistributorID: prov.Distributor.ID})
	require.NoError(t, err)

	lot := f.createSignedLot(t, signer, batch, expiry, med.ID, prov.Distributor.ID)
	return lot, signer
}

func (f *fixture) createSignedLot(t *testing.T, signer signing.Signer, batch, expiry, medicineID, distributorID string) *domain.LotManifest {
	t.Helper()
	sig := signFields(t, signer, batch, expiry, distributorID)
	lot, err := f.lots.Create(context.Background(), CreateLotInput{
		BatchNumber:      batch,
		ExpiryDate:       expiry,
		MedicineID:       medicineID,
		DistributorID:    distributorID,
		DigitalSignature: sig,
	})
	require.NoError(t, err)
	return lot
}

func signFields(t *testing.T, signer signing.Signer, batch, expiry, distributorID string) string {
	t.Helper()
	d, err := domain.ParseExpiryDate(expiry)
	require.NoError(t, err)
	sig, err := signing.SignLot(context.Background(), &domain.LotManifest{
		BatchNumber:   batch,
		ExpiryDate:    d,
		DistributorID: distributorID,
	}, signer)
	require.NoError(t, err)
	return sig
}

func (f *fixture) report(t *testing.T, lotID string, severity domain.Severity) *domain.CrowdFlag {
	t.Helper()
	flag, err := f.flags.Create(context.Background(), CreateFlagInput{
		ReporterType: "Pharmacist",
		IssueType:    "Counterfeit",
		Severity:     string(severity),
		Description:  "suspicious packaging",
		LotID:        lotID,
		UserID:       "user-1",
	})
	require.NoError(t, err)
	return flag
}

func (f *fixture) storedScore(t *testing.T, lotID string) string {
	t.Helper()
	lot, err := f.lots.Get(context.Background(), lotID)
	require.NoError(t, err)
	return lot.TrustScore.StringFixed(2)
}
