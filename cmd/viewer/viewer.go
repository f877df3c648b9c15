package main

import (
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"time"

	"github.com/Garsondee/unit-motion/internal/audio"
	"github.com/Garsondee/unit-motion/internal/game"
	"github.com/Garsondee/unit-motion/internal/scenario"
	"github.com/atotto/clipboard"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"
)

const (
	hudLineH    = 14
	hudPad      = 6
	statusTTL   = 3 * time.Second
	reportTicks = 300
)

var (
	groundColors = map[game.GroundType]color.RGBA{
		game.GroundGrass:  {R: 46, G: 72, B: 40, A: 255},
		game.GroundDirt:   {R: 84, G: 68, B: 46, A: 255},
		game.GroundSand:   {R: 150, G: 134, B: 92, A: 255},
		game.GroundStreet: {R: 70, G: 70, B: 74, A: 255},
		game.GroundOre:    {R: 130, G: 110, B: 30, A: 255},
		game.GroundSeed:   {R: 170, G: 140, B: 20, A: 255},
		game.GroundWater:  {R: 30, G: 60, B: 110, A: 255},
		game.GroundRock:   {R: 90, G: 84, B: 80, A: 255},
	}
	factionColors = []color.RGBA{
		{R: 210, G: 70, B: 60, A: 255},
		{R: 70, G: 120, B: 220, A: 255},
	}
	gridColor     = color.RGBA{R: 0, G: 0, B: 0, A: 40}
	buildingColor = color.RGBA{R: 120, G: 110, B: 100, A: 255}
	padColor      = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	wreckColor    = color.RGBA{R: 50, G: 50, B: 50, A: 255}
	mineColor     = color.RGBA{R: 240, G: 40, B: 40, A: 255}
	pathColor     = color.RGBA{R: 240, G: 240, B: 120, A: 160}
	selectColor   = color.RGBA{R: 255, G: 255, B: 255, A: 220}
	shadowColor   = color.RGBA{R: 0, G: 0, B: 0, A: 90}
	hudBG         = color.RGBA{R: 6, G: 10, B: 6, A: 210}
	hudEdge       = color.RGBA{R: 60, G: 100, B: 60, A: 180}
)

// viewer is an ebiten.Game that draws one scenario and lets the user drive it.
type viewer struct {
	sc     scenario.Scenario
	seed   int64
	tuning game.Tuning
	cues   game.CuePlayer
	log    *slog.Logger

	ts       *game.TestSim
	hook     func(*game.TestSim)
	reporter *game.SimReporter

	simSpeed int // ticks per frame, 0 = paused
	showHUD  bool
	selected int

	status      string
	statusUntil time.Time

	prevKeys       map[ebiten.Key]bool
	prevMouseLeft  bool
	prevMouseRight bool

	face *text.GoXFace
	w, h int
}

func newViewer(sc scenario.Scenario, seed int64, tuning game.Tuning, cues game.CuePlayer, log *slog.Logger) (*viewer, error) {
	v := &viewer{
		sc:       sc,
		seed:     seed,
		tuning:   tuning,
		cues:     cues,
		log:      log,
		simSpeed: 1,
		showHUD:  true,
		prevKeys: map[ebiten.Key]bool{},
		face:     text.NewGoXFace(basicfont.Face7x13),
	}
	if err := v.reset(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *viewer) reset() error {
	ts, hook, err := scenario.Build(v.sc, v.seed, v.tuning,
		game.WithLogger(v.log.With("scenario", v.sc.Name)),
		game.WithCues(v.cues),
	)
	if err != nil {
		return err
	}
	v.ts, v.hook = ts, hook
	v.reporter = game.NewSimReporter(0)
	v.w = ts.Cols * int(game.TileSize)
	v.h = ts.Rows * int(game.TileSize)
	if p, ok := v.cues.(*audio.Player); ok {
		p.SetListener(float64(v.w)/2, float64(v.w)/2)
	}
	v.selected = 0
	if units := ts.World.Units(); len(units) > 0 {
		v.selected = units[0].ID
	}
	return nil
}

func (v *viewer) Update() error {
	v.handleInput()
	for i := 0; i < v.simSpeed; i++ {
		v.ts.RunTicks(1)
		if v.hook != nil {
			v.hook(v.ts)
		}
		if v.ts.Tick%game.TickRate == 0 {
			v.reporter.Collect(v.ts.World)
		}
	}
	return nil
}

func (v *viewer) justPressed(k ebiten.Key, current map[ebiten.Key]bool) bool {
	current[k] = ebiten.IsKeyPressed(k)
	return current[k] && !v.prevKeys[k]
}

func (v *viewer) handleInput() {
	currentKeys := map[ebiten.Key]bool{}
	defer func() { v.prevKeys = currentKeys }()

	if v.justPressed(ebiten.KeySpace, currentKeys) {
		if v.simSpeed == 0 {
			v.simSpeed = 1
		} else {
			v.simSpeed = 0
		}
	}
	if v.justPressed(ebiten.KeyPeriod, currentKeys) && v.simSpeed < 8 {
		v.simSpeed = max(1, v.simSpeed*2)
	}
	if v.justPressed(ebiten.KeyComma, currentKeys) && v.simSpeed > 1 {
		v.simSpeed /= 2
	}
	if v.justPressed(ebiten.KeyF1, currentKeys) {
		v.showHUD = !v.showHUD
	}
	if v.justPressed(ebiten.KeyTab, currentKeys) {
		v.cycleSelection()
	}
	if v.justPressed(ebiten.KeyR, currentKeys) {
		if err := v.reset(); err != nil {
			v.setStatus("reset failed: " + err.Error())
		} else {
			v.setStatus("scenario reset")
		}
	}

	u := v.selectedUnit()
	intents := []struct {
		key    ebiten.Key
		intent game.ManualIntent
	}{
		{ebiten.KeyT, game.ManualTakeoff},
		{ebiten.KeyL, game.ManualLand},
		{ebiten.KeyH, game.ManualHover},
		{ebiten.KeyA, game.ManualAuto},
	}
	for _, in := range intents {
		if v.justPressed(in.key, currentKeys) && u != nil && u.IsAircraft() {
			v.ts.World.SetManualFlight(u, in.intent)
			v.setStatus(fmt.Sprintf("unit %d: %s", u.ID, in.intent))
		}
	}
	if v.justPressed(ebiten.KeyC, currentKeys) && u != nil {
		report := game.UnitDebugReport(v.ts.World, u, reportTicks)
		if err := clipboard.WriteAll(report); err != nil {
			v.log.Warn("clipboard write failed", "error", err)
			v.setStatus("clipboard unavailable")
		} else {
			v.setStatus(fmt.Sprintf("copied report for unit %d", u.ID))
		}
	}

	left := ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)
	if left && !v.prevMouseLeft {
		v.selectAt(ebiten.CursorPosition())
	}
	v.prevMouseLeft = left

	right := ebiten.IsMouseButtonPressed(ebiten.MouseButtonRight)
	if right && !v.prevMouseRight && u != nil {
		mx, my := ebiten.CursorPosition()
		dest := game.TileOf(float64(mx), float64(my))
		if v.ts.World.IssueMove(u, dest) {
			v.setStatus(fmt.Sprintf("unit %d -> (%d,%d)", u.ID, dest.X, dest.Y))
		} else {
			v.setStatus(fmt.Sprintf("unit %d: (%d,%d) unreachable", u.ID, dest.X, dest.Y))
		}
	}
	v.prevMouseRight = right
}

func (v *viewer) setStatus(s string) {
	v.status = s
	v.statusUntil = time.Now().Add(statusTTL)
}

func (v *viewer) selectedUnit() *game.Unit {
	u, ok := v.ts.World.Unit(v.selected)
	if !ok || !u.Alive() {
		return nil
	}
	return u
}

func (v *viewer) cycleSelection() {
	units := v.ts.World.Units()
	if len(units) == 0 {
		return
	}
	next := 0
	for i, u := range units {
		if u.ID == v.selected {
			next = (i + 1) % len(units)
			break
		}
	}
	v.selected = units[next].ID
}

// selectAt picks the unit nearest the cursor within one tile.
func (v *viewer) selectAt(mx, my int) {
	best, bestD := 0, game.TileSize
	for _, u := range v.ts.World.Units() {
		if d := math.Hypot(u.X-float64(mx), u.Y-float64(my)); d < bestD {
			best, bestD = u.ID, d
		}
	}
	if best != 0 {
		v.selected = best
	}
}

func (v *viewer) Draw(screen *ebiten.Image) {
	v.drawMap(screen)
	v.drawObstacles(screen)
	v.drawUnits(screen)
	if v.showHUD {
		v.drawHUD(screen)
	}
}

func (v *viewer) drawMap(screen *ebiten.Image) {
	tm := v.ts.World.Map
	const ts = float32(game.TileSize)
	for row := 0; row < tm.Rows; row++ {
		for col := 0; col < tm.Cols; col++ {
			c := groundColors[tm.Ground(col, row)]
			vector.FillRect(screen, float32(col)*ts, float32(row)*ts, ts, ts, c, false)
		}
	}
	for col := 0; col <= tm.Cols; col++ {
		vector.StrokeLine(screen, float32(col)*ts, 0, float32(col)*ts, float32(v.h), 1, gridColor, false)
	}
	for row := 0; row <= tm.Rows; row++ {
		vector.StrokeLine(screen, 0, float32(row)*ts, float32(v.w), float32(row)*ts, 1, gridColor, false)
	}
}

func (v *viewer) drawObstacles(screen *ebiten.Image) {
	const ts = float32(game.TileSize)
	w := v.ts.World
	for _, b := range w.Buildings {
		x, y := float32(b.Col)*ts, float32(b.Row)*ts
		bw, bh := float32(b.W)*ts, float32(b.H)*ts
		if b.Helipad {
			vector.StrokeRect(screen, x+2, y+2, bw-4, bh-4, 2, padColor, false)
			vector.StrokeLine(screen, x+bw/3, y+bh/4, x+bw/3, y+bh*3/4, 2, padColor, false)
			vector.StrokeLine(screen, x+bw*2/3, y+bh/4, x+bw*2/3, y+bh*3/4, 2, padColor, false)
			vector.StrokeLine(screen, x+bw/3, y+bh/2, x+bw*2/3, y+bh/2, 2, padColor, false)
			continue
		}
		vector.FillRect(screen, x, y, bw, bh, buildingColor, false)
	}
	for _, wr := range w.Wrecks {
		vector.FillCircle(screen, float32(wr.X), float32(wr.Y), float32(wr.Radius), wreckColor, true)
	}
	for _, m := range v.ts.Mines.Mines {
		if !m.Active {
			continue
		}
		cx, cy := m.Tile.Center()
		x, y := float32(cx), float32(cy)
		vector.StrokeLine(screen, x-5, y-5, x+5, y+5, 2, mineColor, true)
		vector.StrokeLine(screen, x-5, y+5, x+5, y-5, 2, mineColor, true)
	}
}

func (v *viewer) drawUnits(screen *ebiten.Image) {
	for _, u := range v.ts.World.Units() {
		if !u.Alive() {
			continue
		}
		c := factionColors[int(u.Owner)%len(factionColors)]
		x, y := float32(u.X), float32(u.Y)
		r := float32(10)
		if u.IsAircraft() && u.Air.Altitude > 0 {
			// Shadow on the ground, hull lifted by altitude.
			vector.FillCircle(screen, x, y, r, shadowColor, true)
			y -= float32(u.Air.Altitude / 4)
		}
		vector.FillCircle(screen, x, y, r, c, true)
		rot := u.Move.Rotation
		vector.StrokeLine(screen, x, y, x+float32(math.Cos(rot))*r*1.4, y+float32(math.Sin(rot))*r*1.4, 2, selectColor, true)

		if u.ID == v.selected {
			vector.StrokeCircle(screen, x, y, r+4, 1.5, selectColor, true)
			px, py := float32(u.X), float32(u.Y)
			for _, wp := range u.Path {
				cx, cy := wp.Center()
				vector.StrokeLine(screen, px, py, float32(cx), float32(cy), 1, pathColor, true)
				px, py = float32(cx), float32(cy)
			}
		}
	}
}

func (v *viewer) hudLines() []string {
	speed := fmt.Sprintf("%dx", v.simSpeed)
	if v.simSpeed == 0 {
		speed = "PAUSED"
	}
	lines := []string{
		fmt.Sprintf("%s  T=%d  SIM: %s  space=pause  ,/. speed  R=reset", v.sc.Name, v.ts.Tick, speed),
		"click=select  right-click=move  Tab=next  C=copy report  F1=HUD",
	}
	if u := v.selectedUnit(); u != nil {
		line := fmt.Sprintf("unit %d %s  tile=(%d,%d) speed=%.0f waypoints=%d", u.ID, u.Kind, u.Tile.X, u.Tile.Y, math.Abs(u.Move.Speed), len(u.Path))
		if u.Fuel != nil {
			line += fmt.Sprintf(" fuel=%.0f/%.0f", u.Fuel.Level, u.Fuel.Capacity)
		}
		lines = append(lines, line)
		if u.IsAircraft() {
			lines = append(lines, fmt.Sprintf("  flight=%s alt=%.0f rotor=%.0f%% intent=%s  T/L/H/A",
				u.Air.State, u.Air.Altitude, 100*u.Air.Rotor.Speed/v.ts.World.Tuning.RotorMaxSpeed, u.Air.Manual))
		}
		if u.Recovery.StallTime > 0 || u.Recovery.Detouring {
			lines = append(lines, fmt.Sprintf("  stall=%.1fs dodge=%d rotate=%d detour=%t",
				u.Recovery.StallTime, u.Recovery.DodgeAttempts, u.Recovery.RotationAttempts, u.Recovery.Detouring))
		}
	}
	if rpt := v.reporter.Latest(); rpt != nil {
		lines = append(lines, fmt.Sprintf("arrivals=%d collisions=%d escalations=%d detonations=%d faults=%d",
			rpt.Arrivals, rpt.Collisions, rpt.Escalations, rpt.Detonations, rpt.Faults))
	}
	if v.status != "" && time.Now().Before(v.statusUntil) {
		lines = append(lines, "> "+v.status)
	}
	return lines
}

func (v *viewer) drawHUD(screen *ebiten.Image) {
	lines := v.hudLines()
	maxLen := 0
	for _, l := range lines {
		maxLen = max(maxLen, len(l))
	}
	boxW := float32(maxLen*7 + hudPad*2)
	boxH := float32(len(lines)*hudLineH + hudPad*2)
	bx, by := float32(4), float32(v.h)-boxH-4
	vector.FillRect(screen, bx, by, boxW, boxH, hudBG, false)
	vector.StrokeRect(screen, bx, by, boxW, boxH, 1, hudEdge, false)

	for i, line := range lines {
		op := &text.DrawOptions{}
		op.GeoM.Translate(float64(bx)+hudPad, float64(by)+hudPad+float64(i*hudLineH))
		op.ColorScale.ScaleWithColor(color.White)
		text.Draw(screen, line, v.face, op)
	}
}

func (v *viewer) Layout(_, _ int) (int, int) {
	return v.w, v.h
}
