// Package dashboard renders the deterministic textual view of a
// workflow's active tool results that agents consume as working memory.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolmem/toolmem/memory/coherence"
	"github.com/toolmem/toolmem/memory/episode"
)

const maxTokenBudget = 100000

// CompressedGroup is one rendering input group: the episodes it covers,
// rendered in place of each member's expanded block unless that member
// is also listed in Render's expandedToolIDs.
type CompressedGroup struct {
	ToolIDs []string
	Summary string
}

// Render produces the textual dashboard for workflowID. groups maps
// group_key to the group's member tool_ids and fallback summary;
// expandedToolIDs overrides compression for specific tool_ids, forcing
// their expanded block even when a group covers them.
func Render(ctx context.Context, store *episode.Store, workflowID string, groups map[string]CompressedGroup, expandedToolIDs map[string]bool) (string, error) {
	episodes, err := store.ListEpisodes(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("dashboard: list episodes: %w", err)
	}
	if len(episodes) == 0 {
		return "=== ACTIVE TOOL RESULTS ===\nNo tool results yet.", nil
	}

	compressed := make(map[string]string, len(groups))
	for _, g := range groups {
		for _, id := range g.ToolIDs {
			compressed[id] = g.Summary
		}
	}

	lines := []string{"=== ACTIVE TOOL RESULTS ==="}
	var totalTokens int

	for _, ep := range episodes {
		if fallback, ok := compressed[ep.ToolID]; ok && !expandedToolIDs[ep.ToolID] {
			line := renderCompressedLine(ctx, store, workflowID, ep, fallback)
			lines = append(lines, line)
		} else {
			lines = append(lines, renderExpandedBlock(ep)...)
		}
		lines = append(lines, "")
		totalTokens += ep.TokenCount
	}

	pct := float64(totalTokens) / float64(maxTokenBudget) * 100
	lines = append(lines, fmt.Sprintf("Token Usage: %s / %s (%.1f%%)", formatThousands(totalTokens), formatThousands(maxTokenBudget), pct))

	return strings.Join(lines, "\n"), nil
}

func renderCompressedLine(ctx context.Context, store *episode.Store, workflowID string, ep *episode.Episode, fallback string) string {
	if sum, err := store.GetSummary(ctx, workflowID, ep.ToolID); err == nil {
		return fmt.Sprintf("[%s] %s [COMPRESSED]", ep.ToolID, coherence.RenderSummaryLine(sum))
	}
	return fmt.Sprintf("[%s] %s [COMPRESSED]", ep.ToolID, fallback)
}

func renderExpandedBlock(ep *episode.Episode) []string {
	status := strings.ToUpper(ep.Status)
	warning := ""
	if ep.Status == "error" || ep.TokenCount > 5000 {
		warning = " ⚠️"
	}

	actionJSON, _ := json.Marshal(ep.Action)
	lines := []string{
		fmt.Sprintf("[%s] %s - %s (%s tokens)%s", ep.ToolID, ep.ActionType, status, formatThousands(ep.TokenCount), warning),
		fmt.Sprintf("Input: %s", string(actionJSON)),
		fmt.Sprintf("Result: %s", strings.ToLower(status)),
	}
	if ep.Result.Output != "" {
		lines = append(lines, fmt.Sprintf("Output: %s", ep.Result.Output))
	}
	if ep.Result.Error != "" {
		lines = append(lines, fmt.Sprintf("Error: %s", ep.Result.Error))
	}
	return lines
}

// formatThousands renders n with comma thousands separators, matching
// the original dashboard's locale-free grouping.
func formatThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
