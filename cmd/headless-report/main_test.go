package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Garsondee/unit-motion/internal/game"
	"github.com/Garsondee/unit-motion/internal/scenario"
)

func mustScenario(t *testing.T, name string) scenario.Scenario {
	t.Helper()
	sc, ok := scenario.Get(name)
	if !ok {
		t.Fatalf("scenario %q missing", name)
	}
	return sc
}

func TestSummarize_TalliesSimLog(t *testing.T) {
	entries := []game.SimLogEntry{
		{Tick: 5, Unit: "tank#1", Category: "collision", Key: "unit"},
		{Tick: 9, Unit: "tank#1", Category: "stuck", Key: "lateral"},
		{Tick: 12, Unit: "tank#1", Category: "stuck", Key: "detour_done"},
		{Tick: 20, Unit: "harvester#2", Category: "stuck", Key: "abandon"},
		{Tick: 30, Unit: "tank#1", Category: "move", Key: "arrived"},
		{Tick: 31, Unit: "tank#3", Category: "mine", Key: "triggered"},
		{Tick: 40, Unit: "apache#4", Category: "flight", Key: "state", Value: "landing -> grounded"},
		{Tick: 41, Unit: "apache#4", Category: "flight", Key: "state", Value: "grounded -> takeoff"},
		{Tick: 50, Unit: "demolition_truck#5", Category: "collision", Key: "detonated"},
	}
	rs := summarize(entries)

	if rs.arrivals != 1 || rs.mineTriggers != 1 || rs.detonations != 1 || rs.landings != 1 {
		t.Fatalf("unexpected totals: %+v", rs)
	}
	if rs.collisions["unit"] != 1 || len(rs.collisions) != 1 {
		t.Fatalf("collisions = %v", rs.collisions)
	}
	if rs.escalations["lateral"] != 1 || rs.escalations["abandon"] != 1 || rs.escalations["detour_done"] != 0 {
		t.Fatalf("escalations = %v", rs.escalations)
	}
	if _, ok := rs.abandoned["harvester#2"]; !ok || len(rs.abandoned) != 1 {
		t.Fatalf("abandoned = %v", rs.abandoned)
	}
	if rs.firstEscalationTick != 9 || rs.firstDetonationTick != 31 || rs.firstAbandonTick != 20 {
		t.Fatalf("markers: esc=%d det=%d abandon=%d", rs.firstEscalationTick, rs.firstDetonationTick, rs.firstAbandonTick)
	}
}

func TestFirstTick_MissingIsNegative(t *testing.T) {
	if got := firstTick(nil, "move", "arrived", ""); got != -1 {
		t.Fatalf("firstTick on empty log = %d, want -1", got)
	}
}

func TestDetectGridlock_TrueWhenRoutesAbandoned(t *testing.T) {
	rs := runStats{units: 3, arrivals: 2, abandoned: map[string]struct{}{"tank#1": {}}}
	stuck, reason := detectGridlock(rs)
	if !stuck || !strings.Contains(reason, "abandoned_routes=1") {
		t.Fatalf("stuck=%t reason=%s", stuck, reason)
	}
}

func TestDetectGridlock_TrueWhenEscalatingWithoutArrivals(t *testing.T) {
	rs := runStats{units: 2, escalations: map[string]int{"dodge": 4, "rotate": 2}}
	stuck, reason := detectGridlock(rs)
	if !stuck || !strings.Contains(reason, "escalating_without_arrivals=6") {
		t.Fatalf("stuck=%t reason=%s", stuck, reason)
	}
}

func TestDetectGridlock_FalseForHealthyRun(t *testing.T) {
	rs := runStats{units: 4, arrivals: 4, escalations: map[string]int{"lateral": 2}}
	if stuck, reason := detectGridlock(rs); stuck {
		t.Fatalf("healthy run flagged: %s", reason)
	}
}

func TestRunScenario_ConvoyArrives(t *testing.T) {
	deps := runDeps{tuning: game.DefaultTuning()}
	rs, err := runScenario(mustScenario(t, "convoy"), 1, 42, 40*game.TickRate, deps)
	if err != nil {
		t.Fatal(err)
	}
	if rs.units != 5 || rs.ticks != 40*game.TickRate {
		t.Fatalf("units=%d ticks=%d", rs.units, rs.ticks)
	}
	if rs.arrivals == 0 || rs.final == nil || rs.windowSummary == nil {
		t.Fatalf("no arrivals recorded: %+v", rs)
	}

	var buf bytes.Buffer
	printRun(&buf, rs)
	printAggregate(&buf, []runStats{rs})
	out := buf.String()
	if !strings.Contains(out, "--- Run 1 (seed=42") || !strings.Contains(out, "=== Aggregate ===") {
		t.Fatalf("unexpected report:\n%s", out)
	}
}

func TestRunScenario_Deterministic(t *testing.T) {
	deps := runDeps{tuning: game.DefaultTuning()}
	a, err := runScenario(mustScenario(t, "blocked"), 1, 7, 20*game.TickRate, deps)
	if err != nil {
		t.Fatal(err)
	}
	b, err := runScenario(mustScenario(t, "blocked"), 1, 7, 20*game.TickRate, deps)
	if err != nil {
		t.Fatal(err)
	}
	if formatCounts(a.escalations) != formatCounts(b.escalations) || a.arrivals != b.arrivals {
		t.Fatalf("same seed diverged: %s vs %s", formatCounts(a.escalations), formatCounts(b.escalations))
	}
}

func TestPrintAggregate_Empty(t *testing.T) {
	var buf bytes.Buffer
	printAggregate(&buf, nil)
	if !strings.Contains(buf.String(), "no successful runs") {
		t.Fatalf("got %q", buf.String())
	}
}
