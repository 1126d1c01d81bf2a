package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"posledger/backend/internal/store"
)

func TestObserveBatchLabelsOutcomeByKind(t *testing.T) {
	m := New()

	m.ObserveBatch("process_sale", time.Now(), nil)
	m.ObserveBatch("process_sale", time.Now(), fmt.Errorf("wrap: %w", store.ErrInvalidSessionState))
	m.ObserveBatch("void_sale", time.Now(), &store.StorageError{Op: "void sale", Err: errors.New("reset")})

	if got := testutil.ToFloat64(m.batches.WithLabelValues("process_sale", "ok")); got != 1 {
		t.Fatalf("expected 1 ok sale, got %v", got)
	}
	if got := testutil.ToFloat64(m.batches.WithLabelValues("process_sale", store.KindInvalidSessionState)); got != 1 {
		t.Fatalf("expected 1 invalid session sale, got %v", got)
	}
	if got := testutil.ToFloat64(m.batches.WithLabelValues("void_sale", store.KindStorageFailure)); got != 1 {
		t.Fatalf("expected 1 failed void, got %v", got)
	}
}

func TestHandlerExposesLedgerMetrics(t *testing.T) {
	m := New()
	m.AddUnitsSold(3)
	m.IncReplay()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"posledger_units_sold_total 3", "posledger_idempotent_replays_total 1"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %q in metrics output", name)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBatch("process_sale", time.Now(), nil)
	m.AddUnitsSold(1)
	m.IncReplay()
}
