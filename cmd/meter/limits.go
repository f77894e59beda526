package main

import (
	"slices"
	"strconv"
	"time"

	"leadlove-hq/meter/pkg/limits/ratelimit"

	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect rate limits",
}

var limitsStatusCmd = &cobra.Command{
	Use:   "status <principal> [endpoint]",
	Short: "Show window usage and blocks for an endpoint's category",
	Long: `Show how much of the current window a principal has used in the category
the endpoint maps to. Without an endpoint the default category is shown.
Reading the status never consumes quota.

Examples:
  meter limits status user-42 /api/leadlove/maps
  meter limits status user-42 /api/export/csv -o json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: showLimitStatus,
}

var limitsCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List configured rate limit categories",
	Args:  cobra.NoArgs,
	RunE:  listCategories,
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.AddCommand(limitsStatusCmd, limitsCategoriesCmd)
}

type statusView struct {
	*ratelimit.Status
}

func (s statusView) Headers() []string {
	return []string{"CATEGORY", "LIMIT", "USED", "REMAINING", "RESET", "BLOCKED_UNTIL", "VIOLATIONS"}
}

func (s statusView) Rows() [][]string {
	blocked := "-"
	if s.BlockedUntil != nil {
		blocked = s.BlockedUntil.UTC().Format(time.RFC3339)
	}
	return [][]string{{
		s.Category,
		strconv.FormatInt(s.Limit, 10),
		strconv.FormatInt(s.Used, 10),
		strconv.FormatInt(s.Remaining, 10),
		s.ResetAt.UTC().Format(time.RFC3339),
		blocked,
		strconv.FormatInt(s.Violations, 10),
	}}
}

type categoryRow struct {
	Name          string `json:"name"`
	Requests      int64  `json:"requests"`
	WindowSeconds int64  `json:"window_seconds"`
	BlockSeconds  int64  `json:"block_seconds"`
}

type categoriesView []categoryRow

func (c categoriesView) Headers() []string {
	return []string{"CATEGORY", "LIMIT", "WINDOW", "BLOCK"}
}

func (c categoriesView) Rows() [][]string {
	rows := make([][]string, 0, len(c))
	for _, cat := range c {
		block := "-"
		if cat.BlockSeconds > 0 {
			block = (time.Duration(cat.BlockSeconds) * time.Second).String()
		}
		rows = append(rows, []string{
			cat.Name,
			strconv.FormatInt(cat.Requests, 10),
			(time.Duration(cat.WindowSeconds) * time.Second).String(),
			block,
		})
	}
	return rows
}

func showLimitStatus(cmd *cobra.Command, args []string) error {
	endpoint := "/"
	if len(args) == 2 {
		endpoint = args[1]
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.limiter.Status(cmd.Context(), args[0], endpoint)
	if err != nil {
		return storageError("limits status", err)
	}
	return render(cmd, statusView{status})
}

func listCategories(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	categories := cfg.Limits.RateLimit.Categories
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	slices.Sort(names)

	view := make(categoriesView, 0, len(names))
	for _, name := range names {
		c := categories[name]
		view = append(view, categoryRow{
			Name:          name,
			Requests:      c.Requests,
			WindowSeconds: c.WindowSeconds,
			BlockSeconds:  c.BlockSeconds,
		})
	}
	return render(cmd, view)
}
