package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
)

// SetRateHeaders writes the primary X-RateLimit-* headers for the most
// restrictive decision plus the per-dimension breakout headers.
func SetRateHeaders(h http.Header, primary *Decision, all []Decision) {
	if primary != nil {
		h.Set("X-RateLimit-Limit", formatAmount(primary.Dimension, primary.Limit))
		h.Set("X-RateLimit-Remaining", formatAmount(primary.Dimension, primary.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(primary.ResetTime.Unix(), 10))
		h.Set("X-RateLimit-Type", string(primary.Dimension))
	}

	for _, d := range all {
		prefix := headerPrefix(d.Dimension)
		if prefix == "" {
			continue
		}
		h.Set(prefix+"-Limit", formatAmount(d.Dimension, d.Limit))
		h.Set(prefix+"-Remaining", formatAmount(d.Dimension, d.Remaining))
		h.Set(prefix+"-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
	}
}

func headerPrefix(d Dimension) string {
	switch d {
	case RequestsPerMinute:
		return "X-RateLimit-Requests-Minute"
	case RequestsPerHour:
		return "X-RateLimit-Requests-Hour"
	case RequestsPerDay:
		return "X-RateLimit-Requests-Day"
	case CostPerMinute:
		return "X-RateLimit-Cost-Minute"
	case CostPerHour:
		return "X-RateLimit-Cost-Hour"
	case CostPerDay:
		return "X-RateLimit-Cost-Day"
	}
	return ""
}

func formatAmount(d Dimension, v float64) string {
	if d.IsCost() {
		return fmt.Sprintf("%.6f", v)
	}
	return strconv.Itoa(int(v))
}
