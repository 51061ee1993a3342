package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveEvent(events.Envelope{Seq: 1, Event: events.Trade{}})
	m.ObserveTx("fill_order", true)
	m.ObserveTx("fill_order", false)
	m.ObserveTx("", false)
	m.ObserveBlock(7, 3, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`dex_events_total{kind="Trade"} 1`,
		`dex_tx_applied_total{action="fill_order"} 1`,
		`dex_tx_rejected_total{action="fill_order"} 1`,
		`dex_tx_rejected_total{action="unknown"} 1`,
		`dex_blocks_total 1`,
		`dex_height 7`,
		`dex_mempool_size 2`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveBlock(1, 0, 0)

	mfs, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "dex_blocks_total" && mf.GetMetric()[0].GetCounter().GetValue() != 0 {
			t.Error("second instance saw the first instance's block")
		}
	}
}
