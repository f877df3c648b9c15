package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/Garsondee/unit-motion/internal/config"
	"github.com/Garsondee/unit-motion/internal/game"
	"github.com/Garsondee/unit-motion/internal/logging"
	"github.com/Garsondee/unit-motion/internal/scenario"
	"github.com/Garsondee/unit-motion/internal/storage"
	"github.com/Garsondee/unit-motion/internal/telemetry"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
)

type runStats struct {
	scenario string
	runIndex int
	seed     int64
	ticks    int
	units    int

	firstArrivalTick    int
	firstEscalationTick int
	firstDetonationTick int
	firstAbandonTick    int

	arrivals     int
	collisions   map[string]int
	escalations  map[string]int
	detonations  int
	mineTriggers int
	depletions   int
	landings     int
	faults       int
	abandoned    map[string]struct{}

	final         *game.SimReport
	windowSummary *game.WindowReport
}

// runDeps are the collaborators shared by every run.
type runDeps struct {
	log    *slog.Logger
	tuning game.Tuning
	events game.EventCounter
	faults game.FaultReporter
}

func main() {
	var runs int
	var ticks int
	var seedBase int64
	var seedStep int64
	var scenarioName string
	var configDir string
	var dbPath string
	var save bool
	var statsAddr string

	flag.IntVar(&runs, "runs", 5, "number of headless simulation runs per scenario")
	flag.IntVar(&ticks, "ticks", 3600, "ticks per run")
	flag.Int64Var(&seedBase, "seed-base", 42, "base RNG seed for run 1")
	flag.Int64Var(&seedStep, "seed-step", 1, "seed increment between runs")
	flag.StringVar(&scenarioName, "scenario", "all", "scenario name, comma list or all ("+strings.Join(scenario.Names(), ", ")+")")
	flag.StringVar(&configDir, "config", ".", "directory holding "+config.FileName+" (empty to skip)")
	flag.BoolVar(&save, "save", false, "store run summaries in the configured database")
	flag.StringVar(&dbPath, "db", "", "sqlite file for -save, overrides storage config")
	flag.StringVar(&statsAddr, "statsview", "", "serve runtime charts on this address while running")
	flag.Parse()

	if runs <= 0 {
		fmt.Println("error: -runs must be > 0")
		return
	}
	if ticks <= 0 {
		fmt.Println("error: -ticks must be > 0")
		return
	}
	selected, ok := scenario.Select(scenarioName)
	if !ok {
		fmt.Printf("error: unsupported scenario %q (supported: %s, all)\n", scenarioName, strings.Join(scenario.Names(), ", "))
		return
	}

	if err := config.Load(configDir); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	logFile, closeLog, err := logging.OpenFile(config.GetString("logFile"))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	defer closeLog()
	log := logging.Setup(os.Stderr, logFile, config.GetString("logLevel"))
	slog.SetDefault(log)
	if tr := config.TickRate(); tr != game.TickRate {
		log.Warn("configured tick rate ignored by headless runs", "configured", tr, "used", game.TickRate)
	}

	deps := runDeps{log: log, tuning: config.Tuning()}
	metrics, err := telemetry.NewMetrics(telemetry.Meter())
	if err != nil {
		log.Error("metrics disabled", "error", err)
	} else {
		deps.events = metrics
	}
	hub, err := telemetry.InitSentry(config.GetString("telemetry.sentryDsn"), "headless-report")
	if err != nil {
		log.Error("sentry disabled", "error", err)
	}
	if hub != nil {
		rep := telemetry.NewSentryReporter(hub)
		defer rep.Flush()
		deps.faults = rep
	}

	if statsAddr != "" {
		viewer.SetConfiguration(viewer.WithTheme(viewer.ThemeWesteros), viewer.WithAddr(statsAddr))
		mgr := statsview.New()
		go mgr.Start()
		defer mgr.Stop()
		log.Info("statsview serving", "addr", statsAddr)
	}

	var store *storage.Store
	if save {
		sc, err := config.Storage()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		if dbPath != "" {
			sc.Type = "sqlite"
			sc.SQLite.Path = dbPath
		}
		store, err = storage.Open(sc)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		defer store.Close()
	}

	out := os.Stdout
	fmt.Fprintf(out, "=== Headless Movement Report ===\n")
	fmt.Fprintf(out, "scenarios=%s runs=%d ticks=%d seed_base=%d seed_step=%d\n\n", scenarioName, runs, ticks, seedBase, seedStep)

	for _, sc := range selected {
		fmt.Fprintf(out, "##### %s: %s\n\n", sc.Name, sc.About)
		all := make([]runStats, 0, runs)
		for i := 0; i < runs; i++ {
			seed := seedBase + int64(i)*seedStep
			stats, err := runScenario(sc, i+1, seed, ticks, deps)
			if err != nil {
				log.Error("run failed", "scenario", sc.Name, "run", i+1, "error", err)
				continue
			}
			all = append(all, stats)
			printRun(out, stats)
			if store != nil {
				row := storage.FromSimReport(sc.Name, seed, stats.final, stats.windowSummary.Format())
				if err := store.SaveRun(&row); err != nil {
					log.Error("save run", "error", err)
				}
			}
		}
		printAggregate(out, all)
		fmt.Fprintln(out)
	}
}

func runScenario(sc scenario.Scenario, runIndex int, seed int64, ticks int, deps runDeps) (runStats, error) {
	var wopts []game.Option
	if deps.log != nil {
		wopts = append(wopts, game.WithLogger(deps.log.With("scenario", sc.Name, "run", runIndex)))
	}
	if deps.events != nil {
		wopts = append(wopts, game.WithEvents(deps.events))
	}
	if deps.faults != nil {
		wopts = append(wopts, game.WithFaultReporter(deps.faults))
	}
	ts, hook, err := scenario.Build(sc, seed, deps.tuning, wopts...)
	if err != nil {
		return runStats{}, err
	}
	reporter := game.NewSimReporter(0)
	units := len(ts.World.Units())

	for i := 0; i < ticks; i++ {
		ts.RunTicks(1)
		if hook != nil {
			hook(ts)
		}
		if ts.Tick%game.TickRate == 0 {
			reporter.Collect(ts.World)
		}
	}
	reporter.Collect(ts.World)

	rs := summarize(ts.SimLog.Entries())
	rs.scenario = sc.Name
	rs.runIndex = runIndex
	rs.seed = seed
	rs.ticks = ts.Tick
	rs.units = units
	rs.final = reporter.Latest()
	rs.windowSummary = reporter.WindowSummary()
	return rs, nil
}

// summarize tallies the sim log of one run.
func summarize(entries []game.SimLogEntry) runStats {
	rs := runStats{
		collisions:  map[string]int{},
		escalations: map[string]int{},
		abandoned:   map[string]struct{}{},
	}
	for _, e := range entries {
		switch e.Category {
		case "move":
			if e.Key == "arrived" {
				rs.arrivals++
			}
		case "collision":
			if e.Key == "detonated" {
				rs.detonations++
			} else {
				rs.collisions[e.Key]++
			}
		case "stuck":
			if e.Key == "detour_done" {
				continue
			}
			rs.escalations[e.Key]++
			if e.Key == "abandon" {
				rs.abandoned[e.Unit] = struct{}{}
			}
		case "mine":
			if e.Key == "triggered" {
				rs.mineTriggers++
			}
		case "fuel":
			if e.Key == "depleted" {
				rs.depletions++
			}
		case "flight":
			if e.Key == "state" && strings.HasSuffix(e.Value, "-> grounded") {
				rs.landings++
			}
		case "fault":
			rs.faults++
		}
	}
	rs.firstArrivalTick = firstTick(entries, "move", "arrived", "")
	rs.firstEscalationTick = firstTick(entries, "stuck", "", "")
	rs.firstDetonationTick = firstTick(entries, "collision", "detonated", "")
	if t := firstTick(entries, "mine", "triggered", ""); t >= 0 && (rs.firstDetonationTick < 0 || t < rs.firstDetonationTick) {
		rs.firstDetonationTick = t
	}
	rs.firstAbandonTick = firstTick(entries, "stuck", "abandon", "")
	return rs
}

// firstTick returns the tick of the first matching entry, or -1. An empty
// key matches any key in the category.
func firstTick(entries []game.SimLogEntry, category, key, contains string) int {
	for _, e := range entries {
		if e.Category != category || (key != "" && e.Key != key) {
			continue
		}
		if contains == "" || strings.Contains(e.Value, contains) {
			return e.Tick
		}
	}
	return -1
}

// detectGridlock flags runs where recovery did the work instead of movement.
func detectGridlock(rs runStats) (bool, string) {
	var reasons []string
	if n := len(rs.abandoned); n > 0 {
		reasons = append(reasons, fmt.Sprintf("abandoned_routes=%d", n))
	}
	esc := sumCounts(rs.escalations)
	if rs.units > 0 && esc >= 3*rs.units && rs.arrivals == 0 {
		reasons = append(reasons, fmt.Sprintf("escalating_without_arrivals=%d", esc))
	}
	if len(reasons) == 0 {
		return false, "none"
	}
	return true, strings.Join(reasons, ",")
}

func printRun(w io.Writer, rs runStats) {
	fmt.Fprintf(w, "--- Run %d (seed=%d, ticks=%d) ---\n", rs.runIndex, rs.seed, rs.ticks)
	fmt.Fprintf(w, "phase_markers: first_arrival=%d first_escalation=%d first_detonation=%d first_abandon=%d\n",
		rs.firstArrivalTick, rs.firstEscalationTick, rs.firstDetonationTick, rs.firstAbandonTick)
	fmt.Fprintf(w, "event_totals: arrivals=%d detonations=%d mine_triggers=%d fuel_depleted=%d landings=%d faults=%d\n",
		rs.arrivals, rs.detonations, rs.mineTriggers, rs.depletions, rs.landings, rs.faults)
	fmt.Fprintf(w, "collisions: %s\n", formatCounts(rs.collisions))
	fmt.Fprintf(w, "escalations: %s\n", formatCounts(rs.escalations))
	fmt.Fprintf(w, "abandoned_units: %s\n", joinSet(rs.abandoned))
	if stuck, reason := detectGridlock(rs); stuck {
		fmt.Fprintf(w, "GRIDLOCK: %s\n", reason)
	}
	if rs.windowSummary != nil {
		fmt.Fprint(w, rs.windowSummary.Format())
	}
	fmt.Fprintln(w)
}

func printAggregate(w io.Writer, all []runStats) {
	if len(all) == 0 {
		fmt.Fprintln(w, "no successful runs")
		return
	}
	totalArrivals := 0
	totalDetonations := 0
	totalMines := 0
	totalDepletions := 0
	totalLandings := 0
	totalFaults := 0
	gridlocked := 0
	collisions := map[string]int{}
	escalations := map[string]int{}
	arrivalTicks := make([]int, 0, len(all))
	escalationTicks := make([]int, 0, len(all))
	abandonedGlobal := map[string]struct{}{}

	for _, rs := range all {
		totalArrivals += rs.arrivals
		totalDetonations += rs.detonations
		totalMines += rs.mineTriggers
		totalDepletions += rs.depletions
		totalLandings += rs.landings
		totalFaults += rs.faults
		for k, v := range rs.collisions {
			collisions[k] += v
		}
		for k, v := range rs.escalations {
			escalations[k] += v
		}
		if rs.firstArrivalTick >= 0 {
			arrivalTicks = append(arrivalTicks, rs.firstArrivalTick)
		}
		if rs.firstEscalationTick >= 0 {
			escalationTicks = append(escalationTicks, rs.firstEscalationTick)
		}
		for label := range rs.abandoned {
			abandonedGlobal[label] = struct{}{}
		}
		if stuck, _ := detectGridlock(rs); stuck {
			gridlocked++
		}
	}

	n := len(all)
	fmt.Fprintln(w, "=== Aggregate ===")
	fmt.Fprintf(w, "runs=%d gridlocked=%d\n", n, gridlocked)
	fmt.Fprintf(w, "avg_events_per_run: arrivals=%.1f detonations=%.1f mine_triggers=%.1f fuel_depleted=%.1f landings=%.1f faults=%.1f\n",
		avg(totalArrivals, n), avg(totalDetonations, n), avg(totalMines, n), avg(totalDepletions, n), avg(totalLandings, n), avg(totalFaults, n))
	fmt.Fprintf(w, "avg_collisions_per_run: %s\n", formatAvgCounts(collisions, n))
	fmt.Fprintf(w, "avg_escalations_per_run: %s\n", formatAvgCounts(escalations, n))
	fmt.Fprintf(w, "phase_marker_avg_ticks: first_arrival=%s first_escalation=%s\n",
		avgTickString(arrivalTicks), avgTickString(escalationTicks))
	fmt.Fprintf(w, "unique_abandoned_units=%d [%s]\n", len(abandonedGlobal), joinSet(abandonedGlobal))
}

func avg(sum int, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func avgTickString(vals []int) string {
	if len(vals) == 0 {
		return "n/a"
	}
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return fmt.Sprintf("%.1f", float64(sum)/float64(len(vals)))
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, v := range counts {
		total += v
	}
	return total
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(counts))
	for _, k := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func formatAvgCounts(counts map[string]int, n int) string {
	if len(counts) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(counts))
	for _, k := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s=%.1f", k, avg(counts[k], n)))
	}
	return strings.Join(parts, " ")
}

func joinSet(s map[string]struct{}) string {
	if len(s) == 0 {
		return "none"
	}
	labels := make([]string, 0, len(s))
	for k := range s {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return strings.Join(labels, ",")
}
