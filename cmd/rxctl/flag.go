package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// flagCmd はクラウドフラグの操作コマンド。
func flagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flag",
		Short: "Report and manage crowd flags",
	}
	cmd.AddCommand(
		flagCreateCmd(),
		flagListCmd(),
		flagStateCmd("resolve", "Mark a flag as resolved"),
		flagStateCmd("unresolve", "Reopen a resolved flag"),
		flagDeleteCmd(),
	)
	return cmd
}

func flagCreateCmd() *cobra.Command {
	var req struct {
		ReporterType string `json:"reporter_type"`
		IssueType    string `json:"issue_type"`
		Severity     string `json:"severity"`
		Description  string `json:"description"`
		LotID        string `json:"lot_id"`
	}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report an issue with a lot",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Severity = strings.ToUpper(req.Severity)
			body, err := callAPI(http.MethodPost, "/v1/flags", req, http.StatusCreated)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return fmt.Sprintf("Reported %v flag %v on lot %v", r["severity"], r["id"], r["lot_id"])
			})
		},
	}
	cmd.Flags().StringVar(&req.LotID, "lot", "", "Lot ID (required)")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "CRITICAL, HIGH, MEDIUM or LOW (required)")
	cmd.Flags().StringVar(&req.IssueType, "issue", "", "Issue type (required)")
	cmd.Flags().StringVar(&req.ReporterType, "reporter", "", "Reporter type, e.g. Patient or Pharmacist (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description (required)")
	for _, f := range []string{"lot", "severity", "issue", "reporter", "description"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func flagListCmd() *cobra.Command {
	var (
		lotID, resolved, issue, reporter string
		search, ordering                 string
		mine                             bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crowd flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for k, v := range map[string]string{
				"lot_id":        lotID,
				"resolved":      resolved,
				"issue_type":    issue,
				"reporter_type": reporter,
				"search":        search,
				"ordering":      ordering,
			} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if mine {
				q.Set("my_flags", "true")
			}
			path := "/v1/flags"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				items, _ := r["flags"].([]any)
				lines := make([]string, 0, len(items))
				for _, it := range items {
					f, _ := it.(map[string]any)
					lines = append(lines, fmt.Sprintf("%v\t%v\t%v\tresolved=%v\tlot %v", f["id"], f["severity"], f["issue_type"], f["is_resolved"], f["lot_id"]))
				}
				if len(lines) == 0 {
					return "No flags."
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringVar(&lotID, "lot", "", "Filter by lot ID")
	cmd.Flags().StringVar(&resolved, "resolved", "", "Filter by state: true or false")
	cmd.Flags().StringVar(&issue, "issue", "", "Filter by issue type (case-insensitive substring)")
	cmd.Flags().StringVar(&reporter, "reporter", "", "Filter by reporter type (case-insensitive substring)")
	cmd.Flags().StringVar(&search, "search", "", "Match description or issue type")
	cmd.Flags().StringVar(&ordering, "ordering", "", "Comma-separated fields (created_at, issue_type, is_resolved); prefix with - for descending")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only flags reported by --user-id")
	return cmd
}

// flagStateCmd は resolve / unresolve コマンドを作る。
func flagStateCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodPost, "/v1/flags/"+url.PathEscape(args[0])+"/"+action, nil, http.StatusOK)
			if err != nil {
				return err
			}
			return printResult(cmd, body, func(r map[string]any) string {
				return fmt.Sprintf("Flag %v resolved=%v", r["id"], r["is_resolved"])
			})
		},
	}
}

func flagDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a flag (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := callAPI(http.MethodDelete, "/v1/flags/"+url.PathEscape(args[0]), nil, http.StatusNoContent); err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted flag %s\n", args[0])
			}
			return nil
		},
	}
}
