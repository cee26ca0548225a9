package consensus

import (
	"math"
	"strconv"
)

// labColor is a CIELAB coordinate used for perceptual color distance.
type labColor struct {
	L, A, B float64
}

// ColorDistance exposes the CIEDE2000 perceptual distance between two
// hex colors, for downstream consumers (e.g. the version diff engine's
// ΔE ≥ 1.0 modification rule).
func ColorDistance(hexA, hexB string) float64 {
	return ciede2000(hexToLab(hexA), hexToLab(hexB))
}

func hexToRGBFloat(hex string) (float64, float64, float64) {
	h := hex
	if len(h) > 0 && h[0] == '#' {
		h = h[1:]
	}
	if len(h) < 6 {
		return 0, 0, 0
	}
	r, _ := strconv.ParseInt(h[0:2], 16, 64)
	g, _ := strconv.ParseInt(h[2:4], 16, 64)
	b, _ := strconv.ParseInt(h[4:6], 16, 64)
	return float64(r) / 255, float64(g) / 255, float64(b) / 255
}

func srgbToLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

// hexToLab converts an sRGB hex color to CIELAB via the D65 XYZ
// intermediate, normalizing through the linear-light space first.
func hexToLab(hex string) labColor {
	r, g, b := hexToRGBFloat(hex)
	lr, lg, lb := srgbToLinear(r), srgbToLinear(g), srgbToLinear(b)

	x := lr*0.4124564 + lg*0.3575761 + lb*0.1804375
	y := lr*0.2126729 + lg*0.7151522 + lb*0.0721750
	z := lr*0.0193339 + lg*0.1191920 + lb*0.9503041

	const xn, yn, zn = 0.95047, 1.0, 1.08883
	fx := labF(x / xn)
	fy := labF(y / yn)
	fz := labF(z / zn)

	return labColor{
		L: 116*fy - 16,
		A: 500 * (fx - fy),
		B: 200 * (fy - fz),
	}
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

// ciede2000 computes the CIEDE2000 perceptual color difference between two
// CIELAB coordinates.
func ciede2000(c1, c2 labColor) float64 {
	avgL := (c1.L + c2.L) / 2
	c1c := math.Hypot(c1.A, c1.B)
	c2c := math.Hypot(c2.A, c2.B)
	avgC := (c1c + c2c) / 2

	g := 0.5 * (1 - math.Sqrt(math.Pow(avgC, 7)/(math.Pow(avgC, 7)+math.Pow(25, 7))))
	a1p := c1.A * (1 + g)
	a2p := c2.A * (1 + g)

	c1p := math.Hypot(a1p, c1.B)
	c2p := math.Hypot(a2p, c2.B)
	avgCp := (c1p + c2p) / 2

	h1p := atanDeg(c1.B, a1p)
	h2p := atanDeg(c2.B, a2p)

	var deltahp float64
	if c1p*c2p == 0 {
		deltahp = 0
	} else if math.Abs(h1p-h2p) <= 180 {
		deltahp = h2p - h1p
	} else if h2p <= h1p {
		deltahp = h2p - h1p + 360
	} else {
		deltahp = h2p - h1p - 360
	}
	deltaHp := 2 * math.Sqrt(c1p*c2p) * math.Sin(deg2rad(deltahp)/2)

	deltaLp := c2.L - c1.L
	deltaCp := c2p - c1p

	var avgHp float64
	if c1p*c2p == 0 {
		avgHp = h1p + h2p
	} else if math.Abs(h1p-h2p) <= 180 {
		avgHp = (h1p + h2p) / 2
	} else if h1p+h2p < 360 {
		avgHp = (h1p + h2p + 360) / 2
	} else {
		avgHp = (h1p + h2p - 360) / 2
	}

	t := 1 - 0.17*math.Cos(deg2rad(avgHp-30)) + 0.24*math.Cos(deg2rad(2*avgHp)) +
		0.32*math.Cos(deg2rad(3*avgHp+6)) - 0.20*math.Cos(deg2rad(4*avgHp-63))

	deltaTheta := 30 * math.Exp(-math.Pow((avgHp-275)/25, 2))
	rc := 2 * math.Sqrt(math.Pow(avgCp, 7)/(math.Pow(avgCp, 7)+math.Pow(25, 7)))
	sl := 1 + (0.015*math.Pow(avgL-50, 2))/math.Sqrt(20+math.Pow(avgL-50, 2))
	sc := 1 + 0.045*avgCp
	sh := 1 + 0.015*avgCp*t
	rt := -math.Sin(deg2rad(2*deltaTheta)) * rc

	kl, kc, kh := 1.0, 1.0, 1.0

	termL := deltaLp / (kl * sl)
	termC := deltaCp / (kc * sc)
	termH := deltaHp / (kh * sh)

	return math.Sqrt(termL*termL + termC*termC + termH*termH + rt*termC*termH)
}

func atanDeg(y, x float64) float64 {
	if x == 0 && y == 0 {
		return 0
	}
	deg := math.Atan2(y, x) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}
