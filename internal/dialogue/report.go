package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/nescohelper/meter-bot/internal/model"
)

// BuildBalanceReport renders one sweep as a Markdown message. Failed meters
// become error entries without hiding the successful ones.
func BuildBalanceReport(statuses []model.MeterStatus) string {
	var response strings.Builder
	response.WriteString("💰 *Balance Report*\n")
	response.WriteString(fmt.Sprintf("_%s_\n\n", time.Now().UTC().Format("2006-01-02 15:04 MST")))

	for i, status := range statuses {
		if status.Err != nil {
			response.WriteString(fmt.Sprintf("%d. *%s* (%s)\n", i+1, status.Meter.Name, status.Meter.Number))
			response.WriteString(fmt.Sprintf("   ❌ Error: %v\n\n", status.Err))
			continue
		}

		marker := "✅"
		if status.Alert {
			marker = "⚠️"
		}
		response.WriteString(fmt.Sprintf("%d. %s *%s* (%s)\n", i+1, marker, status.Meter.Name, status.Meter.Number))
		response.WriteString(fmt.Sprintf("   Current: *%.2f BDT*\n", status.Balance))

		if status.Delta != nil {
			response.WriteString(fmt.Sprintf("   Yesterday: %.2f BDT\n", *status.Delta))
		} else {
			response.WriteString("   Yesterday: Not available yet\n")
		}

		if status.Alert {
			response.WriteString(fmt.Sprintf("   🚨 Below minimum (%g BDT)!\n", status.MinBalance))
		}
		response.WriteString("\n")
	}

	return strings.TrimRight(response.String(), "\n")
}

func formatMeterList(meters []model.Meter) string {
	var response strings.Builder
	response.WriteString("📊 *Your Meters:*\n\n")
	for i, m := range meters {
		response.WriteString(fmt.Sprintf("%d. *%s*\n", i+1, m.Name))
		response.WriteString(fmt.Sprintf("   Number: `%s`\n", m.Number))
		response.WriteString(fmt.Sprintf("   Min Balance: %g BDT\n", m.MinBalance))
		if m.LastBalance != nil {
			response.WriteString(fmt.Sprintf("   Last Balance: %.2f BDT\n", *m.LastBalance))
		}
		response.WriteString("\n")
	}
	return strings.TrimRight(response.String(), "\n")
}
