package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// receiptCmd は薬剤師によるロット受領記録のコマンド。
func receiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Record and list lot receipts",
	}
	cmd.AddCommand(receiptCreateCmd(), receiptGetCmd(), receiptListCmd())
	return cmd
}

func formatReceipt(r map[string]any) string {
	loc, _ := r["location_coord"].(map[string]any)
	return fmt.Sprintf("%v\tlot %v (%v)\tat %v,%v\tby %v\t%v",
		r["id"], r["lot_id"], r["lot_batch_number"], loc["lat"], loc["lng"], r["user_id"], r["created_at"])
}

func receiptCreateCmd() *cobra.Command {
	var (
		lotID    string
		lat, lng float64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record receipt of a lot at a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"lot_id":         lotID,
				"location_coord": map[string]float64{"lat": lat, "lng": lng},
			}
			body, err := callAPI(http.MethodPost, "/v1/receipts", req, http.StatusCreated)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return "Recorded receipt " + formatReceipt(r)
			})
		},
	}
	cmd.Flags().StringVar(&lotID, "lot", "", "Lot ID (required)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude (required)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude (required)")
	for _, f := range []string{"lot", "lat", "lng"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func receiptGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, "/v1/receipts/"+url.PathEscape(args[0]), nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, formatReceipt)
		},
	}
}

func receiptListCmd() *cobra.Command {
	var lotID, userID, from, to, ordering string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List lot receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := queryPath("/v1/receipts", map[string]string{
				"lot_id":    lotID,
				"user_id":   userID,
				"date_from": from,
				"date_to":   to,
				"ordering":  ordering,
			})
			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				items, _ := r["receipts"].([]any)
				lines := make([]string, 0, len(items))
				for _, it := range items {
					e, _ := it.(map[string]any)
					lines = append(lines, formatReceipt(e))
				}
				if len(lines) == 0 {
					return "No receipts."
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringVar(&lotID, "lot", "", "Filter by lot ID")
	cmd.Flags().StringVar(&userID, "user", "", "Filter by recording user ID")
	cmd.Flags().StringVar(&from, "from", "", "Recorded on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Recorded on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ordering, "ordering", "", "created_at for oldest first (default newest first)")
	return cmd
}
