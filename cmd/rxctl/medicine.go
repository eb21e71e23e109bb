package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// medicineCmd は医薬品の操作コマンド。
func medicineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "medicine",
		Short: "Manage medicines",
	}
	cmd.AddCommand(medicineCreateCmd(), medicineListCmd())
	return cmd
}

func medicineCreateCmd() *cobra.Command {
	var req struct {
		Name             string `json:"name"`
		Category         string `json:"category"`
		ActiveIngredient string `json:"active_ingredient"`
		Strength         string `json:"strength"`
		DosageForm       string `json:"dosage_form"`
		ManufacturerName string `json:"manufacturer_name"`
		DistributorID    string `json:"distributor_id"`
	}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a medicine",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodPost, "/v1/medicines", req, http.StatusCreated)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return fmt.Sprintf("Registered medicine %q (id: %v)", req.Name, r["id"])
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Medicine name (required)")
	cmd.Flags().StringVar(&req.Category, "category", "", "Category")
	cmd.Flags().StringVar(&req.ActiveIngredient, "active-ingredient", "", "Active ingredient")
	cmd.Flags().StringVar(&req.Strength, "strength", "", "Strength, e.g. 500mg")
	cmd.Flags().StringVar(&req.DosageForm, "dosage-form", "", "Dosage form, e.g. tablet")
	cmd.Flags().StringVar(&req.ManufacturerName, "manufacturer", "", "Manufacturer name")
	cmd.Flags().StringVar(&req.DistributorID, "distributor", "", "Distributor ID (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("distributor")
	return cmd
}

func medicineListCmd() *cobra.Command {
	var distributorID, category, search, ordering string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List medicines",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := queryPath("/v1/medicines", map[string]string{
				"distributor_id": distributorID,
				"category":       category,
				"search":         search,
				"ordering":       ordering,
			})
			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				items, _ := r["medicines"].([]any)
				lines := make([]string, 0, len(items))
				for _, it := range items {
					m, _ := it.(map[string]any)
					lines = append(lines, fmt.Sprintf("%v\t%v\t%v", m["id"], m["name"], m["strength"]))
				}
				if len(lines) == 0 {
					return "No medicines."
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringVar(&distributorID, "distributor", "", "Filter by distributor ID")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category (case-insensitive substring)")
	cmd.Flags().StringVar(&search, "search", "", "Match name or category")
	cmd.Flags().StringVar(&ordering, "ordering", "", "Comma-separated fields (name, category); prefix with - for descending")
	return cmd
}
