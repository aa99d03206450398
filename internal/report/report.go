// Package report renders recording rounds and the asset registry as terminal tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"moniteur/internal/domain"
)

var (
	OKColor     = color.New(color.FgGreen)
	FailedColor = color.New(color.FgRed, color.Bold)
	MutedColor  = color.New(color.FgCyan)
)

// WriteRound prints one row per asset, successes first, then a summary line.
func WriteRound(w io.Writer, result *domain.RoundResult, duration time.Duration) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Asset", "Status", "Value"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, p := range result.Succeeded {
		data = append(data, []string{p.AssetID, OKColor.Sprint("ok"), strconv.FormatFloat(p.Value, 'f', -1, 64)})
	}

	failedIDs := make([]string, 0, len(result.Failed))
	for id := range result.Failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	for _, id := range failedIDs {
		data = append(data, []string{id, FailedColor.Sprint(string(result.Failed[id])), "-"})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	as := time.UnixMilli(result.AsOf).UTC().Format(time.RFC3339)
	_, err := fmt.Fprintf(w, "Round %s at %s: %d succeeded, %d failed in %s\n",
		MutedColor.Sprint(result.RoundID), as, len(result.Succeeded), len(result.Failed), duration.Round(time.Millisecond))
	return err
}

// WriteAssets prints the registry in configuration order.
func WriteAssets(w io.Writer, assets []domain.Asset) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Name", "Source", "Params"})

	var data [][]string
	for _, a := range assets {
		data = append(data, []string{a.ID, a.Name, string(a.SourceType), formatParams(a.Params)})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d assets\n", len(assets))
	return err
}

func formatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, " ")
}
