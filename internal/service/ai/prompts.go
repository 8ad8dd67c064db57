package ai

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
)

const (
	BatchFallbackReply = "Analysis complete."
	ChatFallbackReply  = "I'm here to help!"
)

const analysisSystemPrompt = `You are Aria, the Margin Maven - an expert AI sales analysis agent with 20+ years of equivalent experience. Your mission: transform raw sales files into actionable forecasts, high-margin insights, and strategic recommendations.

CORE BEHAVIOR:
- Always respond professionally yet conversationally, like a trusted sales director
- Begin every analysis with: "Aria analyzing your sales data... Processing complete."
- End with 2-3 prioritized action items with confidence scores
- Never guess numbers - base ALL insights on provided file data only
- Calculate key metrics: total debits, outstanding balances, aging analysis, customer concentration

ANALYSIS TO PROVIDE:
1. **Financial Overview**: Total outstanding, average days outstanding, top customers by balance
2. **Risk Assessment**: Identify customers with balances >90 days old
3. **Cash Flow Forecast**: Estimate collection timeline based on aging
4. **Strategic Recommendations**: Prioritize which customers to follow up with first
5. **Cross-file Insights**: Compare patterns across multiple files if provided

Format your response with clear sections and actionable insights.`

const chatSystemPrompt = "You are Aria, an expert sales analysis AI. Continue the conversation based on previous context. Be concise and actionable."

// BatchUserPrompt concatenates every file behind a name banner.
func BatchUserPrompt(files []models.AnalysisFile) string {
	blocks := make([]string, 0, len(files))
	for _, f := range files {
		flag := ""
		if f.WasTruncated {
			flag = " [TRUNCATED]"
		}
		blocks = append(blocks, fmt.Sprintf("FILE: %s%s\n%s\n%s\n\n", f.Name, flag, strings.Repeat("=", 50), f.Text))
	}
	return fmt.Sprintf("Analyze these %d sales/accounts receivable file(s):\n\n%s", len(files), strings.Join(blocks, "\n"))
}

// FileContext summarizes analyzed files for the chat system prompt. Empty when none.
func FileContext(records []models.FileRecord) string {
	if len(records) == 0 {
		return ""
	}
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, fmt.Sprintf("%s (%s)", r.Name, humanize.IBytes(uint64(r.SizeBytes))))
	}
	return fmt.Sprintf("\n\nContext: User has uploaded %d file(s): %s", len(records), strings.Join(parts, ", "))
}

// AnalyzedSummary is the System line recorded when a batch is sent.
func AnalyzedSummary(names []string) string {
	return fmt.Sprintf("%d file(s) analyzed: %s", len(names), strings.Join(names, ", "))
}

// ChatFailureText renders a failed chat turn as an assistant reply.
func ChatFailureText(msg string) string {
	return fmt.Sprintf("I encountered an error: %s. Please try again.", msg)
}

// BatchFailureText renders a failed batch as a System line.
func BatchFailureText(msg string) string {
	return "Error: " + msg
}
