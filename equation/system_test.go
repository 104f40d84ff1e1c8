package equation

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadflow/maths"
	"loadflow/network"
	"loadflow/types"
)

// prepare 划分连通分量并指定平衡节点
func prepare(net *network.Network, slack ...string) *network.Network {
	net.ConnectedComponents()
	for _, id := range slack {
		net.Bus(id).Slack = true
	}
	return net
}

// perturb 设置一个非平凡的运行点
func perturb(net *network.Network) {
	for i, b := range net.Buses {
		b.V = 1 + 0.013*float64(i)
		b.Angle = -0.021 * float64(i)
	}
}

// checkJacobian 解析雅可比与有限差分一致
func checkJacobian(t *testing.T, s *System) {
	t.Helper()
	n := s.Dim()
	j := maths.NewSparseMatrix(n, n)
	s.Jacobian(j)
	x0 := maths.NewDenseVector(n)
	s.State(x0)
	f0 := maths.NewDenseVector(n)
	s.Residuals(f0)
	const h = 1e-7
	for c := 0; c < n; c++ {
		x := maths.NewDenseVector(n)
		x0.Copy(x)
		x.Increment(c, h)
		s.SetState(x)
		f := maths.NewDenseVector(n)
		s.Residuals(f)
		for r := 0; r < n; r++ {
			fd := (f.Get(r) - f0.Get(r)) / h
			assert.InDelta(t, fd, j.Get(r, c), 1e-4*math.Max(1, math.Abs(fd)),
				"d%s/d%s", s.Rows()[r].Key, s.Columns()[c].Key)
		}
	}
	s.SetState(x0)
}

func TestBuildEurostag(t *testing.T) {
	net := prepare(network.NewEurostagTutorial(), "NGEN")
	s, err := Build(net, 0, types.DefaultParameters(), nil)
	require.NoError(t, err)

	assert.Equal(t, 8, s.Dim())
	assert.False(t, s.Equation(Key{BusP, 0}).Active, "平衡节点有功方程不激活")
	assert.True(t, s.Equation(Key{BusPhi, 0}).Active)
	assert.False(t, s.Equation(Key{BusQ, 0}).Active, "PV 母线无功方程不激活")
	assert.True(t, s.Equation(Key{BusV, 0}).Active)
	assert.InDelta(t, 24.5/24, s.Equation(Key{BusV, 0}).Target, 1e-12)
	assert.InDelta(t, -6.0, s.Equation(Key{BusP, 3}).Target, 1e-12)
	assert.InDelta(t, -2.0, s.Equation(Key{BusQ, 3}).Target, 1e-12)
	assert.Empty(t, s.Disabled)
	require.Len(t, s.GeneratorGroups, 1)
	assert.True(t, s.GeneratorGroups[0].Local())

	perturb(net)
	checkJacobian(t, s)
}

func TestBuildIdempotent(t *testing.T) {
	net := prepare(network.NewEurostagTutorial(), "NGEN")
	params := types.DefaultParameters()
	a, err := Build(net, 0, params, nil)
	require.NoError(t, err)
	net.Buses[0].VoltageControlOn = false
	net.Buses[0].QLimit = network.LimitMax
	b, err := Build(net, 0, params, nil)
	require.NoError(t, err)

	require.Equal(t, a.Dim(), b.Dim())
	for i, eq := range a.Rows() {
		assert.Equal(t, eq.Key, b.Rows()[i].Key)
		assert.Equal(t, eq.Target, b.Rows()[i].Target)
	}
}

func TestTransformerVoltageJacobian(t *testing.T) {
	net := prepare(network.NewEurostagTutorial(), "NGEN")
	net.Branch("NHV2_NLOAD").VoltageControl.Enabled = true
	params := types.DefaultParameters()
	params.TransformerVoltageControl = true
	s, err := Build(net, 0, params, nil)
	require.NoError(t, err)
	require.Len(t, s.TransformerGroups, 1)
	assert.Equal(t, 8, s.Dim(), "控制未投入前分接头保持固定")

	net.Branch("NHV2_NLOAD").VoltageControl.Active = true
	require.NoError(t, s.Update())
	assert.Equal(t, 9, s.Dim())
	assert.True(t, s.VarActive(VarKey{VarBranchRho, 3}))

	perturb(net)
	net.Branch("NHV2_NLOAD").Rho = 1.02
	checkJacobian(t, s)

	// 退出控制后变比回到档位值
	net.Branch("NHV2_NLOAD").VoltageControl.Active = false
	require.NoError(t, s.Update())
	assert.InDelta(t, net.Branch("NHV2_NLOAD").TapRho(), net.Branch("NHV2_NLOAD").Rho, 0)
}

func TestStepScale(t *testing.T) {
	net := prepare(network.NewEurostagTutorial(), "NGEN")
	net.Branch("NHV2_NLOAD").VoltageControl.Enabled = true
	params := types.DefaultParameters()
	params.TransformerVoltageControl = true
	s, err := Build(net, 0, params, nil)
	require.NoError(t, err)
	net.Branch("NHV2_NLOAD").VoltageControl.Active = true
	require.NoError(t, s.Update())

	rho, v := -1, -1
	for i, c := range s.Columns() {
		switch c.Key {
		case VarKey{VarBranchRho, 3}:
			rho = i
		case VarKey{VarBusV, 3}:
			v = i
		}
	}
	require.GreaterOrEqual(t, rho, 0)
	require.GreaterOrEqual(t, v, 0)

	dx := maths.NewDenseVector(s.Dim())
	assert.Equal(t, 1.0, s.StepScale(dx))

	// 变比一步不超过 MaxRatioChange
	dx.Set(rho, -3500)
	assert.InDelta(t, types.MaxRatioChange/3500, s.StepScale(dx), 1e-15)

	dx.Set(rho, 0.01)
	dx.Set(v, 0.5)
	assert.InDelta(t, types.MaxVoltageChange/0.5, s.StepScale(dx), 1e-15)
}

func TestPhaseControlJacobian(t *testing.T) {
	net := prepare(network.NewPhaseShifterCase(), "B1")
	ps := net.Branch("PS1")
	ps.PhaseControl.Enabled = true
	params := types.DefaultParameters()
	params.PhaseShifterRegulation = true
	s, err := Build(net, 0, params, nil)
	require.NoError(t, err)
	require.Len(t, s.PhaseControls, 1)
	assert.Equal(t, 6, s.Dim())

	ps.PhaseControl.Active = true
	require.NoError(t, s.Update())
	assert.Equal(t, 7, s.Dim())
	assert.InDelta(t, 0.83, s.Equation(Key{BranchP, ps.Num}).Target, 1e-12)

	perturb(net)
	ps.Alpha = 0.05
	checkJacobian(t, s)
}

func TestVoltageSlope(t *testing.T) {
	net := prepare(network.NewEurostagTutorial(), "NGEN")
	net.Generator("GEN").Slope = 0.01
	s, err := Build(net, 0, types.DefaultParameters(), nil)
	require.NoError(t, err)

	require.Len(t, s.GeneratorGroups, 1)
	assert.InDelta(t, 0.01, s.GeneratorGroups[0].Slope, 0)
	assert.Nil(t, s.Equation(Key{BusV, 0}))
	eq := s.Equation(Key{BusVSlope, 0})
	require.NotNil(t, eq)
	assert.True(t, eq.Active)
	assert.False(t, s.Equation(Key{BusQ, 0}).Active)
	assert.Equal(t, 8, s.Dim())

	// V + slope·Qgen = 目标电压
	perturb(net)
	bus := net.Buses[0]
	v := s.TermsValue(eq.Terms) - eq.Target
	assert.InDelta(t, bus.V+0.01*s.ReactiveGeneration(0)-24.5/24, v, 1e-12)
	checkJacobian(t, s)

	// 转为 PQ 后调差方程退出，无功方程投入
	bus.VoltageControlOn, bus.QLimit = false, network.LimitMax
	require.NoError(t, s.Update())
	assert.False(t, eq.Active)
	assert.True(t, s.Equation(Key{BusQ, 0}).Active)
	assert.Equal(t, 8, s.Dim())
}

func TestOpenBranchJacobian(t *testing.T) {
	net := network.NewEurostagTutorial()
	net.Branch("NHV1_NHV2_2").Connected2 = false
	prepare(net, "NGEN")
	s, err := Build(net, 0, types.DefaultParameters(), nil)
	require.NoError(t, err)
	terms := s.Equation(Key{BusQ, 1}).Terms
	assert.True(t, containsKind(terms, TermOpenQ))
	perturb(net)
	checkJacobian(t, s)
}

func containsKind(terms []Term, kind TermKind) bool {
	for _, t := range terms {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// threeBus B1、B2 两台机共同控制 B3 电压
func threeBus(t *testing.T, target1, target2 float64) *network.Network {
	t.Helper()
	net := network.New(100)
	for _, id := range []string{"B1", "B2", "B3"} {
		_, err := net.AddBus(id, 225)
		require.NoError(t, err)
	}
	for _, l := range [][3]string{{"L13", "B1", "B3"}, {"L23", "B2", "B3"}} {
		_, err := net.AddLine(network.LineSpec{ID: l[0], Bus1: l[1], Bus2: l[2], R: 1, X: 20})
		require.NoError(t, err)
	}
	for i, spec := range []network.GeneratorSpec{
		{ID: "G1", Bus: "B1", TargetP: 100, MaxP: 500, MinQ: -100, MaxQ: 100, VoltageRegulatorOn: true, TargetV: target1, RegulatedBus: "B3"},
		{ID: "G2", Bus: "B2", TargetP: 100, MaxP: 500, MinQ: -50, MaxQ: 150, VoltageRegulatorOn: true, TargetV: target2, RegulatedBus: "B3"},
	} {
		_, err := net.AddGenerator(spec)
		require.NoError(t, err, i)
	}
	_, err := net.AddLoad(network.LoadSpec{ID: "LD", Bus: "B3", P: 190, Q: 40})
	require.NoError(t, err)
	return prepare(net, "B1")
}

func TestSharedRemoteControl(t *testing.T) {
	net := threeBus(t, 230, 230)
	s, err := Build(net, 0, types.DefaultParameters(), nil)
	require.NoError(t, err)
	require.Len(t, s.GeneratorGroups, 1)
	g := s.GeneratorGroups[0]
	assert.Equal(t, []int{0, 1}, g.Controllers)
	assert.False(t, g.Local())
	assert.Equal(t, 6, s.Dim())
	assert.False(t, s.Equation(Key{BusQDistribution, 0}).Active, "参考母线没有分配方程")
	assert.True(t, s.Equation(Key{BusQDistribution, 1}).Active)

	perturb(net)
	checkJacobian(t, s)

	// 一台越限后分配方程退出
	net.Buses[1].VoltageControlOn = false
	net.Buses[1].QLimit = network.LimitMax
	require.NoError(t, s.Update())
	assert.False(t, s.Equation(Key{BusQDistribution, 1}).Active)
	assert.InDelta(t, 1.5, s.Equation(Key{BusQ, 1}).Target, 1e-12)
	assert.Equal(t, 6, s.Dim())
}

func TestConsistencyErrors(t *testing.T) {
	_, err := Build(threeBus(t, 230, 231), 0, types.DefaultParameters(), nil)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce), "意外的错误: %v", err)
	assert.Equal(t, "B3", ce.Bus)
	assert.Equal(t, []string{"G1", "G2"}, ce.Controllers)
	assert.InDeltaSlice(t, []float64{230, 231}, ce.Values, 1e-9)
	assert.Contains(t, ce.Error(), "G2=231 kV")

	// B1 控制远方 B3，同时被 B2 的机组远方控制
	net := threeBus(t, 230, 230)
	net.Generators[1].RegulatedBus = 0
	net.Generators[1].TargetV = 230.0 / 225
	_, err = Build(net, 0, types.DefaultParameters(), nil)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "B1", ce.Bus)
}

func TestTransformerGeneratorPriority(t *testing.T) {
	net := prepare(network.NewEurostagTutorial(), "NGEN")
	tr := net.Branch("NHV2_NLOAD")
	tr.VoltageControl.Enabled = true
	tr.VoltageControl.RegulatedBus = 0
	tr.VoltageControl.TargetV = 24.5 / 24
	params := types.DefaultParameters()
	params.TransformerVoltageControl = true

	s, err := Build(net, 0, params, nil)
	require.NoError(t, err)
	assert.Empty(t, s.TransformerGroups)
	require.Len(t, s.Disabled, 1)
	assert.Contains(t, s.Disabled[0], "already controlled by generators")

	tr.VoltageControl.TargetV = 25.0 / 24
	_, err = Build(net, 0, params, nil)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"GEN", "NHV2_NLOAD"}, ce.Controllers)
}

func TestDisabledControls(t *testing.T) {
	params := types.DefaultParameters()
	params.PhaseShifterRegulation = true

	t.Run("桥支路移相器", func(t *testing.T) {
		net := network.NewPhaseShifterCase()
		net.Branch("L1").Connected1 = false
		net.Branch("PS1").PhaseControl.Enabled = true
		prepare(net, "B1")
		s, err := Build(net, 0, params, nil)
		require.NoError(t, err)
		assert.Empty(t, s.PhaseControls)
		require.Len(t, s.Disabled, 1)
		assert.Contains(t, s.Disabled[0], "split")
	})
	t.Run("被控支路不存在", func(t *testing.T) {
		net := prepare(network.NewPhaseShifterCase(), "B1")
		pc := net.Branch("PS1").PhaseControl
		pc.Enabled, pc.RegulatedBranch = true, "NOPE"
		s, err := Build(net, 0, params, nil)
		require.NoError(t, err)
		assert.Empty(t, s.PhaseControls)
		assert.Contains(t, strings.Join(s.Disabled, ";"), `"NOPE" not found`)
		assert.InDelta(t, 0.0, net.Branch("PS1").Alpha, 0, "保持初始档位")
	})
	t.Run("目标电压不可信", func(t *testing.T) {
		net := prepare(network.NewEurostagTutorial(), "NGEN")
		net.Generator("GEN").TargetV = 1.5
		s, err := Build(net, 0, types.DefaultParameters(), nil)
		require.NoError(t, err)
		assert.Empty(t, s.GeneratorGroups)
		assert.True(t, s.Equation(Key{BusQ, 0}).Active)
		assert.Equal(t, 8, s.Dim())
	})
}

func TestAreaExclusion(t *testing.T) {
	net := network.NewTwoAreaCase()
	net.Branch("TIE").Connected2 = false
	prepare(net, "BA", "BB")
	params := types.DefaultParameters()
	params.AreaInterchangeControl = true

	a, err := Build(net, net.Bus("BA").Component, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, a.Areas)

	b, err := Build(net, net.Bus("BB").Component, params, nil)
	require.NoError(t, err)
	assert.Empty(t, b.Areas)
	assert.Equal(t, []int{1}, b.ExcludedAreas)
}

func TestIndexMismatch(t *testing.T) {
	net := prepare(network.NewEurostagTutorial(), "NGEN")
	s, err := Build(net, 0, types.DefaultParameters(), nil)
	require.NoError(t, err)
	s.Equation(Key{BusP, 0}).Active = true
	assert.ErrorIs(t, s.Index(), ErrIndex)
}

func TestNoSlack(t *testing.T) {
	net := network.NewEurostagTutorial()
	net.ConnectedComponents()
	_, err := Build(net, 0, types.DefaultParameters(), nil)
	assert.Error(t, err)
}
