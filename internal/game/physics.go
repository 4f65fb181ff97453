package game

import (
	"math"
	"math/rand"
)

// Vec2 is a plain 2D value.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Ball is the moving body of a match. It is recreated, not mutated in place,
// whenever a point resets it to center.
type Ball struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	V Vec2    `json:"v"`
}

// Paddle is the player-controlled body. Y is clamped to the arena so the
// paddle can never leave the field. X is fixed at allocation time.
type Paddle struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction int     `json:"direction"` // -1 up, 0 stop, 1 down
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Response tuning. The control term steers the ball by contact offset, the
// bias keeps rally angles alternating instead of flattening out, and the
// clamp bounds every paddle-face return to ±45° off horizontal.
const (
	maxCollisionIters = 3
	contactEpsilon    = 0.05
	paddleControl     = 0.8
	angleBias         = 0.3
	maxBounceAngle    = math.Pi / 4
	speedRamp         = 1.05
	speedFloorFrac    = 0.75
	minHorizFrac      = 0.6
)

// World is the fixed-size arena one ball and two paddles move in. It is pure
// state transformation: it knows nothing about rooms, connections or
// identities, so it can be driven directly with fixed inputs in tests.
type World struct {
	Width       float64
	Height      float64
	BallRadius  float64
	BallSpeed   float64 // initial serve speed, also the response reference
	PaddleSpeed float64

	rng *rand.Rand
}

// NewWorld builds an arena. The RNG is injected so serves are deterministic
// under a fixed seed.
func NewWorld(width, height, ballRadius, ballSpeed, paddleSpeed float64, rng *rand.Rand) World {
	return World{
		Width:       width,
		Height:      height,
		BallRadius:  ballRadius,
		BallSpeed:   ballSpeed,
		PaddleSpeed: paddleSpeed,
		rng:         rng,
	}
}

// NewBall serves from center in a random direction with a uniformly
// randomized vertical component.
func (w *World) NewBall() Ball {
	vx := w.BallSpeed
	if w.rng.Float64() > 0.5 {
		vx = -vx
	}
	return Ball{
		X: w.Width / 2,
		Y: w.Height / 2,
		V: Vec2{X: vx, Y: (w.rng.Float64() - 0.5) * w.BallSpeed},
	}
}

// ResetBall serves a fresh ball toward dir (+1 right, -1 left), biased away
// from the side that just scored.
func (w *World) ResetBall(dir float64) Ball {
	ball := w.NewBall()
	ball.V.X = math.Abs(ball.V.X) * dir
	return ball
}

// MovePaddle integrates one paddle by dt, clamped to the arena.
func (w *World) MovePaddle(p *Paddle, dt float64) {
	if p == nil || p.Direction == 0 {
		return
	}
	y := p.Y + float64(p.Direction)*w.PaddleSpeed*dt

	minY := p.Height / 2
	maxY := w.Height - p.Height/2
	p.Y = math.Max(minY, math.Min(maxY, y))
}

// contact is one candidate time-of-impact within the current sub-step.
type contact struct {
	t, nx, ny  float64
	hitX, hitY float64
	wall       bool
	paddle     *Paddle
	paddleIdx  int
}

// Step advances the ball by dt against the paddles and the horizontal walls,
// resolving the earliest swept collision each iteration. paddles may contain
// nil entries for players that have not readied up yet. Motion left over
// after the iteration budget is applied unobstructed.
func (w *World) Step(ball *Ball, paddles []*Paddle, dt float64) {
	remaining := dt
	for iter := 0; remaining > 1e-6 && iter < maxCollisionIters; iter++ {
		dx := ball.V.X * remaining
		dy := ball.V.Y * remaining

		best := w.earliestContact(ball, paddles, dx, dy)
		if best == nil {
			ball.X += dx
			ball.Y += dy
			return
		}

		// Move to the impact point and push out along the normal so the
		// next iteration does not re-detect the same surface.
		ball.X = best.hitX + best.nx*contactEpsilon
		ball.Y = best.hitY + best.ny*contactEpsilon

		prevVy := ball.V.Y
		switch {
		case best.wall:
			ball.V.Y = -ball.V.Y
		case best.ny != 0 && best.nx == 0:
			// Paddle corner/edge hit: plain vertical bounce.
			ball.V.Y = -ball.V.Y
		default:
			w.paddleResponse(ball, best.paddle, best.paddleIdx, prevVy)
		}

		remaining *= 1 - best.t
	}

	ball.X += ball.V.X * remaining
	ball.Y += ball.V.Y * remaining
}

// earliestContact sweeps the ball's motion (dx, dy) against every candidate
// surface and returns the earliest impact, or nil when the path is clear.
func (w *World) earliestContact(ball *Ball, paddles []*Paddle, dx, dy float64) *contact {
	var best *contact

	for idx, pad := range paddles {
		if pad == nil {
			continue
		}
		// Paddle AABB expanded by the ball radius; sweeping the center
		// against the expanded box is equivalent to sweeping the ball.
		minX := pad.X - w.BallRadius
		maxX := pad.X + pad.Width + w.BallRadius
		minY := pad.Y - pad.Height/2 - w.BallRadius
		maxY := pad.Y + pad.Height/2 + w.BallRadius

		if t, nx, ny, ok := rayVsAABB(ball.X, ball.Y, dx, dy, minX, minY, maxX, maxY); ok {
			if best == nil || t < best.t {
				best = &contact{
					t: t, nx: nx, ny: ny,
					hitX: ball.X + dx*t, hitY: ball.Y + dy*t,
					paddle: pad, paddleIdx: idx,
				}
			}
		}
	}

	if dy < 0 {
		topY := w.BallRadius
		if t := (topY - ball.Y) / dy; t >= 0 && t <= 1 {
			if best == nil || t < best.t {
				best = &contact{t: t, ny: 1, hitX: ball.X + dx*t, hitY: topY, wall: true}
			}
		}
	} else if dy > 0 {
		botY := w.Height - w.BallRadius
		if t := (botY - ball.Y) / dy; t >= 0 && t <= 1 {
			if best == nil || t < best.t {
				best = &contact{t: t, ny: -1, hitX: ball.X + dx*t, hitY: botY, wall: true}
			}
		}
	}

	return best
}

// rayVsAABB is the slab test for a ray (px,py)+(dx,dy)*t against a box,
// returning the entry time in [0,1] and the hit normal.
func rayVsAABB(px, py, dx, dy, minX, minY, maxX, maxY float64) (t, nx, ny float64, ok bool) {
	var tminX, tmaxX, tminY, tmaxY float64

	if dx != 0 {
		tx1 := (minX - px) / dx
		tx2 := (maxX - px) / dx
		tminX = math.Min(tx1, tx2)
		tmaxX = math.Max(tx1, tx2)
	} else {
		if px < minX || px > maxX {
			return 0, 0, 0, false
		}
		tminX = math.Inf(-1)
		tmaxX = math.Inf(1)
	}

	if dy != 0 {
		ty1 := (minY - py) / dy
		ty2 := (maxY - py) / dy
		tminY = math.Min(ty1, ty2)
		tmaxY = math.Max(ty1, ty2)
	} else {
		if py < minY || py > maxY {
			return 0, 0, 0, false
		}
		tminY = math.Inf(-1)
		tmaxY = math.Inf(1)
	}

	tEnter := math.Max(tminX, tminY)
	tExit := math.Min(tmaxX, tmaxY)

	if tExit < 0 || tEnter > tExit || tEnter > 1 || tEnter < 0 {
		return 0, 0, 0, false
	}

	if tminX > tminY {
		if dx > 0 {
			nx = -1
		} else {
			nx = 1
		}
	} else {
		if dy > 0 {
			ny = -1
		} else {
			ny = 1
		}
	}
	return tEnter, nx, ny, true
}

// paddleResponse recomputes the ball velocity after a paddle-face hit. The
// outgoing angle mixes the contact offset with a continuity bias against the
// incoming vertical sign, is clamped to ±45°, and the speed ramps up per
// return with a floor so volleys cannot stall.
func (w *World) paddleResponse(ball *Ball, pad *Paddle, idx int, prevVy float64) {
	rel := (ball.Y - pad.Y) / (pad.Height / 2)
	rel = math.Max(-1, math.Min(1, rel))

	dir := 1.0
	if idx != 0 {
		dir = -1
	}
	incomingSpeed := math.Hypot(ball.V.X, ball.V.Y)

	vy := ball.V.Y + rel*w.BallSpeed*paddleControl

	angleRaw := math.Atan2(vy, math.Abs(ball.V.X))
	desiredSign := sign(rel)
	if prevVy != 0 {
		desiredSign = -sign(prevVy)
	}
	angleDesired := angleRaw
	if desiredSign != 0 {
		angleDesired = desiredSign * math.Abs(angleRaw)
	}
	angle := (1-angleBias)*angleRaw + angleBias*angleDesired
	angle = math.Max(-maxBounceAngle, math.Min(maxBounceAngle, angle))

	targetSpeed := math.Max(incomingSpeed*speedRamp, w.BallSpeed*speedFloorFrac)
	vx := dir * math.Cos(angle) * targetSpeed
	vy = math.Sin(angle) * targetSpeed

	if minVx := minHorizFrac * targetSpeed; math.Abs(vx) < minVx {
		s := sign(vx)
		if s == 0 {
			s = dir
		}
		vx = s * minVx
		vs := sign(vy)
		if vs == 0 {
			vs = 1
		}
		vy = vs * math.Sqrt(math.Max(0, targetSpeed*targetSpeed-vx*vx))
	}

	ball.V.X = vx
	ball.V.Y = vy
}

// Out reports which player scored: 0 when the ball crossed the right edge,
// 1 when it crossed the left edge, -1 while the ball is still in play.
func (w *World) Out(ball *Ball) int {
	switch {
	case ball.X > w.Width:
		return 0
	case ball.X < 0:
		return 1
	default:
		return -1
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
