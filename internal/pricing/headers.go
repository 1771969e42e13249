package pricing

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/als-ai/gateway/internal/models"
)

// SetCostHeaders writes the X-Cost-* response headers for a priced response.
// Quota headers are emitted only when the tenant has quotas configured.
func SetCostHeaders(h http.Header, result Result, monthlySoFar float64, quotas *models.TenantQuotas) {
	h.Set("X-Cost-Input", money(result.InputCost))
	h.Set("X-Cost-Output", money(result.OutputCost))
	h.Set("X-Cost-Total", money(result.TotalCost))
	h.Set("X-Cost-Currency", result.Currency)
	h.Set("X-Cost-Tokens-Input", strconv.Itoa(result.InputTokens))
	h.Set("X-Cost-Tokens-Output", strconv.Itoa(result.OutputTokens))
	h.Set("X-Cost-Rate-Input", money(result.InputRate))
	h.Set("X-Cost-Rate-Output", money(result.OutputRate))
	h.Set("X-Cost-Monthly-Total", money(monthlySoFar+result.TotalCost))

	if quotas != nil {
		h.Set("X-Cost-Monthly-Limit", money(quotas.MonthlyLimit))
		remaining := quotas.MonthlyLimit - monthlySoFar - result.TotalCost
		if remaining < 0 {
			remaining = 0
		}
		h.Set("X-Cost-Monthly-Remaining", money(remaining))
		h.Set("X-Cost-Daily-Limit", money(quotas.DailyLimit))
	}
}

func money(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
