package infra

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// KMSSigner はCloud KMSの Ed25519 鍵で正規メッセージに署名する。
// 署名鍵はKMSの外に出ないため、販売業者の端末に鍵ファイルを置かずに済む。
type KMSSigner struct {
	client         *kms.KeyManagementClient
	keyVersionName string
}

// NewKMSSigner は鍵バージョン名
// (projects/*/locations/*/keyRings/*/cryptoKeys/*/cryptoKeyVersions/*) を指定してKMSSignerを生成する。
func NewKMSSigner(ctx context.Context, keyVersionName string) (*KMSSigner, error) {
	if keyVersionName == "" {
		return nil, errors.New("KMS key version name is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSSigner{
		client:         client,
		keyVersionName: keyVersionName,
	}, nil
}

// Sign はメッセージ本体をKMSに送り、Ed25519署名を返す。
// Ed25519 はダイジェストではなくメッセージそのものに署名する。
func (s *KMSSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	req := &kmspb.AsymmetricSignRequest{
		Name:       s.keyVersionName,
		Data:       message,
		DataCrc32C: wrapperspb.Int64(int64(crc32.Checksum(message, crc32cTable))),
	}
	resp, err := s.client.AsymmetricSign(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("signing with KMS: %w", err)
	}

	// 転送中の破損を検出する
	if !resp.VerifiedDataCrc32C {
		return nil, errors.New("signing with KMS: request corrupted in transit")
	}
	if resp.Name != s.keyVersionName {
		return nil, fmt.Errorf("signing with KMS: unexpected key version %q", resp.Name)
	}
	if int64(crc32.Checksum(resp.Signature, crc32cTable)) != resp.SignatureCrc32C.GetValue() {
		return nil, errors.New("signing with KMS: response corrupted in transit")
	}
	if len(resp.Signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signing with KMS: unexpected signature length %d", len(resp.Signature))
	}
	return resp.Signature, nil
}

// PublicKey はKMS鍵の公開鍵（32バイト）を取得する。販売業者登録時に使う。
func (s *KMSSigner) PublicKey(ctx context.Context) ([]byte, error) {
	resp, err := s.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: s.keyVersionName})
	if err != nil {
		return nil, fmt.Errorf("fetching KMS public key: %w", err)
	}
	if resp.Algorithm != kmspb.CryptoKeyVersion_EC_SIGN_ED25519 {
		return nil, fmt.Errorf("KMS key algorithm %s is not EC_SIGN_ED25519", resp.Algorithm)
	}
	return parseEd25519PEM([]byte(resp.Pem))
}

// Close はKMSクライアントを閉じる。
func (s *KMSSigner) Close() error {
	return s.client.Close()
}

func parseEd25519PEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("KMS public key is not PEM encoded")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing KMS public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("KMS public key is %T, not ed25519", pub)
	}
	return []byte(edPub), nil
}
