package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"rxverify-service/internal/domain"
	"rxverify-service/internal/signing"
)

// lotCmd はロットマニフェストの操作コマンド。
func lotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lot",
		Short: "Sign, register and verify lot manifests",
	}
	cmd.AddCommand(lotSignCmd(), lotCreateCmd(), lotUpdateCmd(), lotGetCmd(), lotListCmd(), lotVerifyCmd(), lotRecalculateCmd())
	return cmd
}

// signManifest は署名対象フィールドから署名を作る。
func signManifest(ctx context.Context, sf *signerFlags, batch, expiry, distributorID string) (string, error) {
	expiryDate, err := domain.ParseExpiryDate(expiry)
	if err != nil {
		return "", err
	}
	signer, closeSigner, err := sf.resolve(ctx)
	if err != nil {
		return "", err
	}
	defer closeSigner()

	return signing.SignLot(ctx, &domain.LotManifest{
		BatchNumber:   batch,
		ExpiryDate:    expiryDate,
		DistributorID: distributorID,
	}, signer)
}

func lotSignCmd() *cobra.Command {
	var (
		sf                           signerFlags
		batch, expiry, distributorID string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign lot fields locally and print the hex signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := signManifest(cmd.Context(), &sf, batch, expiry, distributorID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&batch, "batch", "", "Batch number (required)")
	cmd.Flags().StringVar(&expiry, "expiry", "", "Expiry date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&distributorID, "distributor", "", "Distributor ID (required)")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("expiry")
	_ = cmd.MarkFlagRequired("distributor")
	return cmd
}

func lotCreateCmd() *cobra.Command {
	var (
		sf                                       signerFlags
		batch, expiry, medicineID, distributorID string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Sign a lot manifest and register it",
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := signManifest(cmd.Context(), &sf, batch, expiry, distributorID)
			if err != nil {
				return err
			}
			body, err := callAPI(http.MethodPost, "/v1/lots", map[string]string{
				"batch_number":      batch,
				"expiry_date":       expiry,
				"medicine_id":       medicineID,
				"distributor_id":    distributorID,
				"digital_signature": sig,
			}, http.StatusCreated)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return fmt.Sprintf("Registered lot %q (id: %v, trust score: %v)", batch, r["id"], r["trust_score"])
			})
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&batch, "batch", "", "Batch number (required)")
	cmd.Flags().StringVar(&expiry, "expiry", "", "Expiry date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&medicineID, "medicine", "", "Medicine ID (required)")
	cmd.Flags().StringVar(&distributorID, "distributor", "", "Distributor ID (required)")
	for _, f := range []string{"batch", "expiry", "medicine", "distributor"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func lotUpdateCmd() *cobra.Command {
	var (
		sf                                       signerFlags
		batch, expiry, medicineID, distributorID string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a lot manifest, re-signing when signed fields change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/lots/" + url.PathEscape(args[0])
			current, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			var lot map[string]any
			if err := decodeObject(current, &lot); err != nil {
				return err
			}

			req := map[string]string{}
			if medicineID != "" {
				req["medicine_id"] = medicineID
			}
			if batch != "" || expiry != "" || distributorID != "" {
				b, e, d := pick(batch, lot["batch_number"]), pick(expiry, lot["expiry_date"]), pick(distributorID, lot["distributor_id"])
				sig, err := signManifest(cmd.Context(), &sf, b, e, d)
				if err != nil {
					return err
				}
				req["batch_number"], req["expiry_date"], req["distributor_id"] = b, e, d
				req["digital_signature"] = sig
			}
			if len(req) == 0 {
				return fmt.Errorf("nothing to update")
			}

			body, err := callAPI(http.MethodPatch, path, req, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return fmt.Sprintf("Updated lot %v (batch: %v, expiry: %v)", r["id"], r["batch_number"], r["expiry_date"])
			})
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&batch, "batch", "", "New batch number")
	cmd.Flags().StringVar(&expiry, "expiry", "", "New expiry date YYYY-MM-DD")
	cmd.Flags().StringVar(&medicineID, "medicine", "", "New medicine ID")
	cmd.Flags().StringVar(&distributorID, "distributor", "", "New distributor ID")
	return cmd
}

func pick(flag string, current any) string {
	if flag != "" {
		return flag
	}
	s, _ := current.(string)
	return s
}

func lotGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a lot manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, "/v1/lots/"+url.PathEscape(args[0]), nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, formatLot)
		},
	}
}

func formatLot(r map[string]any) string {
	return fmt.Sprintf("%v\t%v\texpires %v\ttrust %v (%v)", r["id"], r["batch_number"], r["expiry_date"], r["trust_score"], r["safety_status"])
}

func lotListCmd() *cobra.Command {
	var (
		medicineID, distributorID, minScore string
		expired, search, ordering           string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List lot manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := queryPath("/v1/lots", map[string]string{
				"medicine_id":     medicineID,
				"distributor_id":  distributorID,
				"min_trust_score": minScore,
				"expired":         expired,
				"search":          search,
				"ordering":        ordering,
			})
			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				items, _ := r["lots"].([]any)
				lines := make([]string, 0, len(items))
				for _, it := range items {
					l, _ := it.(map[string]any)
					lines = append(lines, formatLot(l))
				}
				if len(lines) == 0 {
					return "No lots."
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringVar(&medicineID, "medicine", "", "Filter by medicine ID")
	cmd.Flags().StringVar(&distributorID, "distributor", "", "Filter by distributor ID")
	cmd.Flags().StringVar(&minScore, "min-trust-score", "", "Only lots with at least this trust score")
	cmd.Flags().StringVar(&expired, "expired", "", "Filter by expiry: true or false")
	cmd.Flags().StringVar(&search, "search", "", "Match batch number, medicine name or distributor name")
	cmd.Flags().StringVar(&ordering, "ordering", "", "Comma-separated fields (expiry_date, trust_score, batch_number); prefix with - for descending")
	return cmd
}

func lotVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [id...]",
		Short: "Verify lot signatures (all lots when no ID is given, admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				body, err := callAPI(http.MethodPost, "/v1/lots/"+url.PathEscape(args[0])+"/verify", nil, http.StatusOK)
				if err != nil {
					return err
				}
				return printResult(cmd, body, func(r map[string]any) string {
					return fmt.Sprintf("%v: trust %v (%v), unresolved flags %v", r["status"], r["trust_score"], r["safety_status"], r["unresolved_flags"])
				})
			}

			body, err := callAPI(http.MethodPost, "/v1/lots/verify", map[string]any{"lot_ids": args}, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				items, _ := r["results"].([]any)
				lines := []string{fmt.Sprintf("%v of %v lots verified", r["verified"], r["total"])}
				for _, it := range items {
					res, _ := it.(map[string]any)
					if e, ok := res["error"]; ok {
						lines = append(lines, fmt.Sprintf("%v\terror: %v", res["lot_id"], e))
						continue
					}
					lines = append(lines, fmt.Sprintf("%v\t%v", res["lot_id"], res["status"]))
				}
				return strings.Join(lines, "\n")
			})
		},
	}
}

func lotRecalculateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalculate <id>",
		Short: "Recompute the trust score of a lot from its unresolved flags (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodPost, "/v1/lots/"+url.PathEscape(args[0])+"/recalculate", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return fmt.Sprintf("Trust score of %v is %v (%v)", r["lot_id"], r["trust_score"], r["safety_status"])
			})
		},
	}
}
