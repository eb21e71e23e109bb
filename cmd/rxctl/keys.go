package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rxverify-service/internal/infra"
	"rxverify-service/internal/signing"
)

// signerFlags は署名鍵の指定方法。いずれか1つだけを指定する。
type signerFlags struct {
	signingKey string
	keyFile    string
	kmsKey     string
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.signingKey, "signing-key", "", "Hex Ed25519 signing key (or set RXCTL_SIGNING_KEY)")
	cmd.Flags().StringVar(&f.keyFile, "key-file", "", "File containing the hex signing key")
	cmd.Flags().StringVar(&f.kmsKey, "kms-key", "", "Cloud KMS key version name (projects/.../cryptoKeyVersions/N)")
}

// resolve は指定された鍵から Signer を作る。KMSの場合は返された close を呼ぶこと。
func (f *signerFlags) resolve(ctx context.Context) (signing.Signer, func(), error) {
	hexKey := f.signingKey
	if hexKey == "" && f.keyFile == "" && f.kmsKey == "" {
		hexKey = os.Getenv("RXCTL_SIGNING_KEY")
	}

	set := 0
	for _, v := range []string{hexKey, f.keyFile, f.kmsKey} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, nil, fmt.Errorf("exactly one of --signing-key, --key-file or --kms-key is required")
	}

	switch {
	case f.kmsKey != "":
		signer, err := infra.NewKMSSigner(ctx, f.kmsKey)
		if err != nil {
			return nil, nil, err
		}
		return signer, func() { _ = signer.Close() }, nil
	case f.keyFile != "":
		b, err := os.ReadFile(f.keyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("reading key file: %w", err)
		}
		hexKey = string(b)
	}

	key, err := signing.ParseSigningKeyHex(hexKey)
	if err != nil {
		return nil, nil, err
	}
	return signing.NewKeySigner(key), func() {}, nil
}

// keygenCmd はローカルで鍵ペアを生成する。
func keygenCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, seed, err := signing.GenerateIdentity()
			if err != nil {
				return err
			}
			pubHex, seedHex := hex.EncodeToString(pub), hex.EncodeToString(seed)

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(seedHex+"\n"), 0o600); err != nil {
					return fmt.Errorf("writing key file: %w", err)
				}
			}

			if output == "json" {
				result := map[string]string{"public_key": pubHex}
				if outFile == "" {
					result["signing_key"] = seedHex
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public key:  %s\n", pubHex)
			if outFile == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "signing key: %s\n", seedHex)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "signing key written to %s\n", outFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "Write the signing key to this file (mode 0600) instead of stdout")
	return cmd
}
