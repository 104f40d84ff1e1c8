package network

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuilderPerUnit 物理单位到标幺值的换算
func TestBuilderPerUnit(t *testing.T) {
	n := NewEurostagTutorial()
	require.Len(t, n.Buses, 4)
	require.Len(t, n.Branches, 4)

	line := n.Branch("NHV1_NHV2_1")
	require.NotNil(t, line)
	zb := 380.0 * 380.0 / 100
	assert.InDelta(t, 3/zb, line.R, 1e-15)
	assert.InDelta(t, 33/zb, line.X, 1e-15)
	assert.InDelta(t, 386e-6/2*zb, line.B1, 1e-15)
	assert.InDelta(t, 1.0, line.Rho, 0)

	tr := n.Branch("NGEN_NHV1")
	assert.InDelta(t, 400.0/24*24/380, tr.Rho, 1e-12)
	assert.InDelta(t, 0.24/1300, tr.R, 1e-15)

	load := n.Branch("NHV2_NLOAD")
	a := (158.0 / 150.0) / (400.0 / 380.0)
	assert.InDelta(t, 158.0/400*380/150*a, load.Rho, 1e-12)
	assert.Equal(t, 2, load.RatioTap.HighPosition())
	assert.InDelta(t, 158.0/150, load.VoltageControl.TargetV, 1e-12)

	g := n.Generator("GEN")
	assert.InDelta(t, 6.07, g.TargetP, 1e-12)
	assert.InDelta(t, 24.5/24, g.TargetV, 1e-12)
	assert.True(t, g.Participating)
}

func TestBuilderErrors(t *testing.T) {
	n := New(100)
	_, err := n.AddBus("B1", 380)
	require.NoError(t, err)

	_, err = n.AddBus("B1", 380)
	assert.ErrorIs(t, err, ErrDuplicateID)
	_, err = n.AddBus("B2", 0)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = n.AddLine(LineSpec{ID: "L", Bus1: "B1", Bus2: "NOPE", X: 1})
	assert.ErrorIs(t, err, ErrUnknownBus)
	_, err = n.AddGenerator(GeneratorSpec{ID: "G", Bus: "B1", MinP: 10, MaxP: 0})
	assert.ErrorIs(t, err, ErrInvalidValue)
	err = n.AttachRatioTap("NOPE", RatioTapSpec{Rhos: []float64{1}})
	assert.ErrorIs(t, err, ErrUnknownBranch)

	_, err = n.AddBus("B2", 380)
	require.NoError(t, err)
	_, err = n.AddLine(LineSpec{ID: "L", Bus1: "B1", Bus2: "B2", X: 1})
	require.NoError(t, err)
	err = n.AttachRatioTap("L", RatioTapSpec{Rhos: []float64{1}})
	assert.ErrorIs(t, err, ErrInvalidValue, "线路不能挂接分接头")

	_, err = n.AddTransformer(TransformerSpec{ID: "T", Bus1: "B1", Bus2: "B2", RatedU1: 380, RatedU2: 380, X: 1})
	require.NoError(t, err)
	err = n.AttachRatioTap("T", RatioTapSpec{LowPosition: 0, Position: 3, Rhos: []float64{1, 1.1}})
	assert.ErrorIs(t, err, ErrInvalidValue, "档位越界")
}

func TestTapChanger(t *testing.T) {
	n := NewPhaseShifterCase()
	ps := n.Branch("PS1")
	tap := ps.PhaseTap
	assert.Equal(t, 400, tap.HighPosition())
	assert.InDelta(t, 0.0, ps.Alpha, 1e-15)

	assert.Equal(t, 346, tap.NearestAlpha(14.58*math.Pi/180))
	assert.Equal(t, 164, tap.NearestAlpha(-3.62*math.Pi/180))
	assert.False(t, tap.InRange(401))

	tap.Position = 346
	ps.ApplyTaps()
	assert.InDelta(t, 14.6*math.Pi/180, ps.Alpha, 1e-12)

	n.ResetTaps()
	assert.Equal(t, 200, tap.Position)
	assert.InDelta(t, 0.0, ps.Alpha, 1e-12)

	tap.Position = 210
	n.ConnectedComponents()
	n.SeedTaps(0)
	assert.Equal(t, 210, tap.InitialPosition)
}

func TestSnapshot(t *testing.T) {
	n := NewPhaseShifterCase()
	snap := n.Snapshot()

	ps := n.Branch("PS1")
	ps.PhaseTap.Position = 346
	ps.ApplyTaps()
	ps.PhaseControl.Active = true
	ps.P1 = 83
	b := n.Bus("B2")
	b.V, b.Angle, b.Slack = 0.95, -0.2, true
	b.QLimit = LimitMax
	n.Generators[0].P = 1.5
	n.Loads[0].P = 3
	n.ConnectedComponents()

	n.Restore(snap)
	assert.Equal(t, NewPhaseShifterCase(), n)
	assert.Equal(t, 200, ps.PhaseTap.Position)
	assert.Same(t, ps, n.Branch("PS1"))
}

func TestPerUnit(t *testing.T) {
	pu := PerUnit{BaseMVA: 100}
	assert.InDelta(t, 1444.0, pu.ZBase(380), 1e-12)
	assert.InDelta(t, 6.0, pu.Power(600), 1e-15)
	assert.InDelta(t, 600.0, pu.MW(6), 1e-12)
	// 1pu 电流在 380kV 下为 100MVA/(√3·380kV)
	assert.InDelta(t, 151.934, pu.Ampere(1, 380), 1e-3)
}
