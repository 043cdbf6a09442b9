// Package humanize moves the pointer the way a person does. Straight-line
// programmatic clicks are a known detection signal; gestures here follow a
// randomized Bezier arc with eased pacing and land slightly off-center.
package humanize

import (
	"context"
	"math"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Point is a page coordinate.
type Point struct {
	X, Y float64
}

// MouseConfig tunes a click gesture.
type MouseConfig struct {
	// MinSteps and MaxSteps bound the number of waypoints per movement.
	MinSteps int
	MaxSteps int

	// MinStepDelayMs and MaxStepDelayMs bound the pause between waypoints.
	MinStepDelayMs int
	MaxStepDelayMs int

	// ClickOffsetRadius scatters the landing point around the target
	// center, in pixels.
	ClickOffsetRadius float64

	// Hover and dwell bound the pauses immediately before and after the
	// button press.
	PreClickHoverMinMs  int
	PreClickHoverMaxMs  int
	PostClickDwellMinMs int
	PostClickDwellMaxMs int
}

// DefaultMouseConfig keeps a full gesture under roughly half a second.
func DefaultMouseConfig() MouseConfig {
	return MouseConfig{
		MinSteps:            15,
		MaxSteps:            30,
		MinStepDelayMs:      3,
		MaxStepDelayMs:      12,
		ClickOffsetRadius:   5.0,
		PreClickHoverMinMs:  50,
		PreClickHoverMaxMs:  200,
		PostClickDwellMinMs: 80,
		PostClickDwellMaxMs: 250,
	}
}

// Mouse drives one page's pointer.
type Mouse struct {
	page   *rod.Page
	config MouseConfig
}

// NewMouse returns a mouse with default gesture tuning.
func NewMouse(page *rod.Page) *Mouse {
	return &Mouse{page: page, config: DefaultMouseConfig()}
}

// NewMouseWithConfig returns a mouse with custom gesture tuning.
func NewMouseWithConfig(page *rod.Page, config MouseConfig) *Mouse {
	return &Mouse{page: page, config: config}
}

// MoveTo walks the pointer from its current position to (x, y) along a
// Bezier arc.
func (m *Mouse) MoveTo(ctx context.Context, x, y float64) error {
	pos := m.page.Mouse.Position()
	start := Point{X: pos.X, Y: pos.Y}
	end := Point{X: x, Y: y}

	steps := m.config.MinSteps + rand.Intn(m.config.MaxSteps-m.config.MinSteps+1)
	for _, p := range generateBezierPath(start, end, steps) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.page.Mouse.MoveTo(proto.NewPoint(p.X, p.Y)); err != nil {
			return err
		}
		if !SleepWithContext(ctx, RandomDuration(m.config.MinStepDelayMs, m.config.MaxStepDelayMs)) {
			return ctx.Err()
		}
	}
	return nil
}

// Click performs a full gesture at (x, y): approach, hover, press, dwell.
// The landing point is scattered within ClickOffsetRadius of the target.
func (m *Mouse) Click(ctx context.Context, x, y float64) error {
	x += (rand.Float64()*2 - 1) * m.config.ClickOffsetRadius
	y += (rand.Float64()*2 - 1) * m.config.ClickOffsetRadius

	if err := m.MoveTo(ctx, x, y); err != nil {
		return err
	}
	if !SleepWithContext(ctx, RandomDuration(m.config.PreClickHoverMinMs, m.config.PreClickHoverMaxMs)) {
		return ctx.Err()
	}
	if err := m.page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if !SleepWithContext(ctx, RandomDuration(m.config.PostClickDwellMinMs, m.config.PostClickDwellMaxMs)) {
		return ctx.Err()
	}
	return nil
}

// ClickElement clicks the center of element with a full gesture.
func (m *Mouse) ClickElement(ctx context.Context, element *rod.Element) error {
	shape, err := element.Shape()
	if err != nil {
		return err
	}
	if shape == nil || len(shape.Quads) == 0 {
		return ErrElementNotVisible
	}

	quad := shape.Quads[0]
	centerX := (quad[0] + quad[2] + quad[4] + quad[6]) / 4
	centerY := (quad[1] + quad[3] + quad[5] + quad[7]) / 4
	return m.Click(ctx, centerX, centerY)
}

// generateBezierPath samples a cubic Bezier between start and end. Control
// points sit perpendicular to the direct line at randomized offsets, and
// sampling is eased so the pointer accelerates then settles.
func generateBezierPath(start, end Point, numPoints int) []Point {
	if numPoints < 2 {
		numPoints = 2
	}

	dx := end.X - start.X
	dy := end.Y - start.Y
	distance := math.Sqrt(dx*dx + dy*dy)

	perpX, perpY := 0.0, 0.0
	if distance > 0 {
		perpX = -dy / distance
		perpY = dx / distance
	}

	side := func() float64 {
		if rand.Float64() < 0.5 {
			return -1
		}
		return 1
	}
	offset1 := distance * (0.2 + rand.Float64()*0.3) * side()
	offset2 := distance * (0.2 + rand.Float64()*0.3) * side()

	ctrl1 := Point{
		X: start.X + dx*0.33 + perpX*offset1,
		Y: start.Y + dy*0.33 + perpY*offset1,
	}
	ctrl2 := Point{
		X: start.X + dx*0.67 + perpX*offset2,
		Y: start.Y + dy*0.67 + perpY*offset2,
	}

	points := make([]Point, numPoints)
	for i := range points {
		t := easeInOutCubic(float64(i) / float64(numPoints-1))
		mt := 1 - t
		points[i] = Point{
			X: mt*mt*mt*start.X + 3*mt*mt*t*ctrl1.X + 3*mt*t*t*ctrl2.X + t*t*t*end.X,
			Y: mt*mt*mt*start.Y + 3*mt*mt*t*ctrl1.Y + 3*mt*t*t*ctrl2.Y + t*t*t*end.Y,
		}
	}
	return points
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
