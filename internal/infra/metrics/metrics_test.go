//go:build !integration

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersNormalizeLabels(t *testing.T) {
	IncWebhook(" Payment.Captured ", "processed")
	if got := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("payment.captured", "processed")); got < 1 {
		t.Errorf("expected normalized webhook label to be counted, got %v", got)
	}

	IncWebhook("", "malformed")
	if got := testutil.ToFloat64(webhookEventsTotal.WithLabelValues("unknown", "malformed")); got < 1 {
		t.Errorf("expected empty event to be recorded as unknown, got %v", got)
	}

	IncOrder("PAID", "ok")
	if got := testutil.ToFloat64(ordersTotal.WithLabelValues("paid", "ok")); got < 1 {
		t.Errorf("expected order counter to increase, got %v", got)
	}
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	MustRegister()
	MustRegister()
}
