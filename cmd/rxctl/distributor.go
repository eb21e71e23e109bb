package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"rxverify-service/internal/infra"
)

// distributorCmd は販売業者の操作コマンド。
func distributorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distributor",
		Short: "Manage distributors",
	}
	cmd.AddCommand(distributorCreateCmd(), distributorGetCmd(), distributorListCmd())
	return cmd
}

func distributorCreateCmd() *cobra.Command {
	var (
		name      string
		publicKey string
		kmsKey    string
		regulator bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a distributor (generates a key pair unless --public-key or --kms-key is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if publicKey != "" && kmsKey != "" {
				return fmt.Errorf("--public-key and --kms-key are mutually exclusive")
			}
			if kmsKey != "" {
				pub, err := kmsPublicKey(cmd.Context(), kmsKey)
				if err != nil {
					return err
				}
				publicKey = pub
			}

			body, err := callAPI(http.MethodPost, "/v1/distributors", map[string]any{
				"name":                  name,
				"public_key":            publicKey,
				"is_verified_regulator": regulator,
			}, http.StatusCreated)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				s := fmt.Sprintf("Registered distributor %q (id: %v)\npublic key:  %v", name, r["id"], r["public_key"])
				if key, ok := r["signing_key"]; ok {
					s += fmt.Sprintf("\nsigning key: %v\nStore the signing key now. It is not shown again.", key)
				}
				return s
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Distributor name (required)")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Hex Ed25519 public key to register")
	cmd.Flags().StringVar(&kmsKey, "kms-key", "", "Register the public key of this Cloud KMS key version")
	cmd.Flags().BoolVar(&regulator, "verified-regulator", false, "Mark as verified regulator (admin only)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// kmsPublicKey はKMS鍵の公開鍵をhexで返す。
func kmsPublicKey(ctx context.Context, keyVersion string) (string, error) {
	signer, err := infra.NewKMSSigner(ctx, keyVersion)
	if err != nil {
		return "", err
	}
	defer signer.Close()

	pub, err := signer.PublicKey(ctx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub), nil
}

func distributorGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a distributor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, "/v1/distributors/"+url.PathEscape(args[0]), nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return fmt.Sprintf("%v  %v  regulator=%v\npublic key: %v", r["id"], r["name"], r["is_verified_regulator"], r["public_key"])
			})
		},
	}
}

func distributorListCmd() *cobra.Command {
	var verified, search, ordering string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List distributors",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := queryPath("/v1/distributors", map[string]string{
				"verified": verified,
				"search":   search,
				"ordering": ordering,
			})
			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				items, _ := r["distributors"].([]any)
				lines := make([]string, 0, len(items))
				for _, it := range items {
					d, _ := it.(map[string]any)
					lines = append(lines, fmt.Sprintf("%v\t%v\tregulator=%v", d["id"], d["name"], d["is_verified_regulator"]))
				}
				if len(lines) == 0 {
					return "No distributors."
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringVar(&verified, "verified", "", "Filter by regulator verification: true or false")
	cmd.Flags().StringVar(&search, "search", "", "Match distributor name")
	cmd.Flags().StringVar(&ordering, "ordering", "", "Comma-separated fields (name, is_verified_regulator); prefix with - for descending")
	return cmd
}
