package outerloop

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadflow/equation"
	"loadflow/network"
	"loadflow/newton"
	"loadflow/types"
)

// solve 构建分量 0 的方程组并执行外循环
func solve(t *testing.T, net *network.Network, params *types.Parameters, slack string) (*Context, Result, error) {
	t.Helper()
	net.ConnectedComponents()
	net.Bus(slack).Slack = true
	s, err := equation.Build(net, 0, params, nil)
	require.NoError(t, err)
	require.NoError(t, newton.NewInitializer(params.VoltageInitMode).Initialize(s))
	c := NewContext(s)
	res, err := NewRunner(params, newton.NewSolver(params, nil)).Run(c)
	return c, res, err
}

func plainParams() *types.Parameters {
	p := types.DefaultParameters()
	p.DistributedSlack = false
	return p
}

// fineTap 将降压变分接头换成 25 档（0.85..1.15，步长 0.0125），初始档位 12
func fineTap(net *network.Network) *network.Branch {
	br := net.Branch("NHV2_NLOAD")
	a := br.RatioTap.Steps[1].Rho
	steps := make([]network.TapStep, 25)
	for i := range steps {
		steps[i] = network.TapStep{Rho: a * (0.85 + 0.0125*float64(i))}
	}
	br.RatioTap.Steps = steps
	br.RatioTap.Position, br.RatioTap.InitialPosition = 12, 12
	br.ApplyTaps()
	return br
}

func mw(net *network.Network, br *network.Branch, side network.Side) float64 {
	return net.MW(real(net.TerminalPower(br, side)))
}

func TestControllerOrder(t *testing.T) {
	p := types.DefaultParameters()
	p.TransformerVoltageControl = true
	p.ShuntVoltageControl = true
	p.TransformerReactivePowerControl = true
	p.PhaseShifterRegulation = true
	var names []string
	for _, c := range NewControllers(p) {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{
		"reactive limits",
		"transformer voltage control",
		"shunt voltage control",
		"transformer reactive power control",
		"phase control",
		"distributed slack",
	}, names)

	p.AreaInterchangeControl = true
	p.UseReactiveLimits = false
	ctrls := NewControllers(p)
	assert.Equal(t, "transformer voltage control", ctrls[0].Name())
	assert.Equal(t, "area interchange control", ctrls[len(ctrls)-1].Name())
}

// scripted 按预设返回状态并记录调用
type scripted struct {
	name     string
	statuses []types.OuterLoopStatus
	err      error
	calls    *[]string
}

func (s *scripted) Name() string { return s.name }
func (s *scripted) Initialize(*Context) {}
func (s *scripted) Check(*Context) (types.OuterLoopStatus, error) {
	*s.calls = append(*s.calls, s.name)
	if s.err != nil {
		return types.OuterLoopFailed, s.err
	}
	if len(s.statuses) == 0 {
		return types.OuterLoopStable, nil
	}
	st := s.statuses[0]
	s.statuses = s.statuses[1:]
	return st, nil
}

func eurostagContext(t *testing.T, params *types.Parameters) *Context {
	t.Helper()
	net := network.NewEurostagTutorial()
	net.ConnectedComponents()
	net.Bus("NGEN").Slack = true
	s, err := equation.Build(net, 0, params, nil)
	require.NoError(t, err)
	return NewContext(s)
}

func TestRunnerRestartsPass(t *testing.T) {
	params := plainParams()
	c := eurostagContext(t, params)
	var calls []string
	r := &Runner{
		Solver: newton.NewSolver(params, nil),
		Controllers: []Controller{
			&scripted{name: "a", calls: &calls},
			&scripted{name: "b", calls: &calls, statuses: []types.OuterLoopStatus{types.OuterLoopUnstable}},
			&scripted{name: "c", calls: &calls},
		},
		MaxIterations: 5,
	}
	res, err := r.Run(c)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConverged, res.Status)
	assert.Equal(t, 1, res.OuterIterations)
	assert.Equal(t, 3, res.NewtonIterations)
	assert.Equal(t, []string{"a", "b", "a", "b", "c"}, calls)
}

func TestRunnerLimits(t *testing.T) {
	params := plainParams()

	var calls []string
	always := make([]types.OuterLoopStatus, 100)
	for i := range always {
		always[i] = types.OuterLoopUnstable
	}
	r := &Runner{
		Solver:        newton.NewSolver(params, nil),
		Controllers:   []Controller{&scripted{name: "loop", calls: &calls, statuses: always}},
		MaxIterations: 4,
	}
	res, err := r.Run(eurostagContext(t, params))
	require.NoError(t, err)
	assert.Equal(t, types.StatusMaxIterationReached, res.Status)
	assert.Equal(t, 4, res.OuterIterations)

	r.Controllers = []Controller{&scripted{name: "fail", calls: &calls, statuses: []types.OuterLoopStatus{types.OuterLoopFailed}}}
	res, err = r.Run(eurostagContext(t, params))
	require.NoError(t, err)
	assert.Equal(t, types.StatusSolverFailed, res.Status)

	boom := errors.New("boom")
	r.Controllers = []Controller{&scripted{name: "err", calls: &calls, err: boom}}
	res, err = r.Run(eurostagContext(t, params))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, types.StatusSolverFailed, res.Status)

	// 牛顿不收敛时不调用控制器
	calls = nil
	params.MaxNewtonRaphsonIterations = 1
	r = &Runner{
		Solver:        newton.NewSolver(params, nil),
		Controllers:   []Controller{&scripted{name: "x", calls: &calls}},
		MaxIterations: 4,
	}
	res, err = r.Run(eurostagContext(t, params))
	require.NoError(t, err)
	assert.Equal(t, types.StatusMaxIterationReached, res.Status)
	assert.Empty(t, calls)
}

func TestSensitivity(t *testing.T) {
	params := plainParams()
	net := network.NewPhaseShifterCase()
	c0, res, err := solve(t, net, params, "B1")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)

	ps := net.Branch("PS1")
	key := equation.VarKey{Kind: equation.VarBranchAlpha, Element: ps.Num}
	p := c0.flowTerms(ps.Num, network.Side1, false)
	sens, err := c0.Sensitivity(key, p)
	require.NoError(t, err)
	base := c0.System.TermsValue(p)

	// 与扰动后重新求解的结果比较
	const h = 1e-4
	ps.PhaseTap.Steps[ps.PhaseTap.Position-ps.PhaseTap.LowPosition].Alpha += h
	require.NoError(t, c0.System.Update())
	require.Equal(t, types.StatusConverged, newton.NewSolver(params, nil).Solve(c0.System).Status)
	fd := (c0.System.TermsValue(p) - base) / h
	assert.Greater(t, sens, 0.0)
	assert.InDelta(t, fd, sens, math.Abs(fd)*1e-2)
}

func phaseParams(mode types.PhaseShifterControlMode) *types.Parameters {
	p := plainParams()
	p.PhaseShifterRegulation = true
	p.PhaseShifterControlMode = mode
	p.MaxOuterLoopIterations = 40
	return p
}

func TestPhaseShifterActivePowerControl(t *testing.T) {
	cases := []struct {
		name     string
		mode     types.PhaseShifterControlMode
		side     network.Side
		position int
		maxOuter int
	}{
		{"continuous side 1", types.PhaseShifterContinuousWithDiscretisation, network.Side1, 346, 1},
		{"incremental side 1", types.PhaseShifterIncremental, network.Side1, 346, 2},
		{"continuous side 2", types.PhaseShifterContinuousWithDiscretisation, network.Side2, 164, 1},
		{"incremental side 2", types.PhaseShifterIncremental, network.Side2, 164, 2},
	}
	alpha := map[network.Side]float64{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			net := network.NewPhaseShifterCase()
			ps := net.Branch("PS1")
			ctl := ps.PhaseControl
			ctl.Enabled = true
			ctl.Side = tc.side
			_, res, err := solve(t, net, phaseParams(tc.mode), "B1")
			require.NoError(t, err)
			require.Equal(t, types.StatusConverged, res.Status)
			assert.Equal(t, tc.position, ps.PhaseTap.Position)
			assert.LessOrEqual(t, res.OuterIterations, tc.maxOuter)
			assert.Positive(t, res.OuterIterations)
			assert.InDelta(t, net.MW(ctl.Target), mw(net, ps, tc.side), net.MW(ctl.Deadband)/2)
			assert.InDelta(t, ps.TapAlpha(), ps.Alpha, 0)
			alpha[tc.side] = ps.Alpha
		})
	}

	// 换到 2 端调节得到反号且幅值较小的相移
	require.Len(t, alpha, 2)
	assert.Positive(t, alpha[network.Side1])
	assert.Negative(t, alpha[network.Side2])
	assert.Less(t, math.Abs(alpha[network.Side2]), alpha[network.Side1])
}

func TestPhaseShifterDisabledKeepsTap(t *testing.T) {
	net := network.NewPhaseShifterCase()
	ps := net.Branch("PS1")
	_, res, err := solve(t, net, phaseParams(types.PhaseShifterIncremental), "B1")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)
	assert.Equal(t, 200, ps.PhaseTap.Position)
	assert.Equal(t, 0, res.OuterIterations)
}

func TestCurrentLimiter(t *testing.T) {
	// 0° 时 PS1 电流约 72.5A，每档约减小 1.3A
	net := network.NewPhaseShifterCase()
	ps := net.Branch("PS1")
	ps.PhaseControl.Enabled = true
	ps.PhaseControl.Mode = types.PhaseCurrentLimiter
	ps.PhaseControl.Target = 68 // A
	ps.PhaseControl.Deadband = 0

	_, res, err := solve(t, net, phaseParams(types.PhaseShifterContinuousWithDiscretisation), "B1")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)
	assert.Equal(t, 204, ps.PhaseTap.Position)
	assert.Equal(t, ps.PhaseTap.Position-200, res.OuterIterations)
	assert.LessOrEqual(t, net.CurrentAmpere(ps, network.Side1), 68.0)
	assert.Greater(t, net.CurrentAmpere(ps, network.Side1), 66.0)

	// 未越限时不动作
	net = network.NewPhaseShifterCase()
	ps = net.Branch("PS1")
	ps.PhaseControl.Enabled = true
	ps.PhaseControl.Mode = types.PhaseCurrentLimiter
	ps.PhaseControl.Target = 1000
	_, res, err = solve(t, net, phaseParams(types.PhaseShifterContinuousWithDiscretisation), "B1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusConverged, res.Status)
	assert.Equal(t, 200, ps.PhaseTap.Position)
}

func TestTransformerVoltageControl(t *testing.T) {
	modes := []types.TransformerVoltageControlMode{
		types.TransformerWithGeneratorVoltageControl,
		types.TransformerAfterGeneratorVoltageControl,
		types.TransformerIncrementalVoltageControl,
	}
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			net := network.NewEurostagTutorial()
			br := fineTap(net)
			vc := br.VoltageControl
			vc.Enabled = true
			vc.Deadband = 0.02
			params := plainParams()
			params.TransformerVoltageControl = true
			params.TransformerVoltageControlMode = mode

			_, res, err := solve(t, net, params, "NGEN")
			require.NoError(t, err)
			require.Equal(t, types.StatusConverged, res.Status)
			assert.Greater(t, br.RatioTap.Position, 12)
			assert.InDelta(t, vc.TargetV, net.Bus("NLOAD").V, vc.Deadband/2)
			assert.InDelta(t, br.TapRho(), br.Rho, 0)
		})
	}
}

func TestTransformerVoltageControlDisabled(t *testing.T) {
	net := network.NewEurostagTutorial()
	br := fineTap(net)
	params := plainParams()
	params.TransformerVoltageControl = true
	_, res, err := solve(t, net, params, "NGEN")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)
	assert.Equal(t, 12, br.RatioTap.Position)
}

func TestShuntVoltageControl(t *testing.T) {
	for _, mode := range []types.ShuntVoltageControlMode{types.ShuntWithGeneratorVoltageControl, types.ShuntIncrementalVoltageControl} {
		t.Run(mode.String(), func(t *testing.T) {
			net := network.NewEurostagTutorial()
			sh, err := net.AddShunt(network.ShuntSpec{
				ID: "SC", Bus: "NLOAD",
				BPerSection: 10.0 / (150 * 150), MaxSectionCount: 10,
				Regulating: true, TargetV: 149, TargetDeadband: 1,
			})
			require.NoError(t, err)
			params := plainParams()
			params.ShuntVoltageControl = true
			params.ShuntVoltageControlMode = mode

			_, res, err := solve(t, net, params, "NGEN")
			require.NoError(t, err)
			require.Equal(t, types.StatusConverged, res.Status)
			assert.Positive(t, sh.SectionCount)
			assert.InDelta(t, 149, net.Bus("NLOAD").VoltageKV(), 0.5)
			assert.InDelta(t, sh.SectionB(sh.SectionCount), sh.B, 0)
		})
	}
}

func TestTransformerReactivePowerControl(t *testing.T) {
	// 档位 14 下的无功作为目标
	ref := network.NewEurostagTutorial()
	refBr := fineTap(ref)
	refBr.RatioTap.Position = 14
	_, res, err := solve(t, ref, plainParams(), "NGEN")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)
	target := imag(ref.TerminalPower(refBr, network.Side1))

	for _, incremental := range []bool{false, true} {
		net := network.NewEurostagTutorial()
		br := fineTap(net)
		br.ReactivePowerControl = &network.TransformerReactivePowerControl{
			Enabled: true, RegulatedBranch: br.ID, Side: network.Side1, TargetQ: target,
		}
		params := plainParams()
		params.TransformerReactivePowerControl = true
		if incremental {
			params.TransformerVoltageControlMode = types.TransformerIncrementalVoltageControl
		}
		_, res, err := solve(t, net, params, "NGEN")
		require.NoError(t, err)
		require.Equal(t, types.StatusConverged, res.Status)
		assert.Equal(t, 14, br.RatioTap.Position, "incremental=%v", incremental)
		assert.InDelta(t, target, imag(net.TerminalPower(br, network.Side1)), 1e-3)
		assert.False(t, br.ReactivePowerControl.Active)
		if !incremental {
			// 收敛后投入连续变比，再取整
			assert.Equal(t, 2, res.OuterIterations)
		}
	}
}

func TestTransformerReactivePowerControlWaitsForSolution(t *testing.T) {
	net := network.NewEurostagTutorial()
	br := fineTap(net)
	br.ReactivePowerControl = &network.TransformerReactivePowerControl{
		Enabled: true, RegulatedBranch: br.ID, Side: network.Side1, TargetQ: 2.7,
	}
	params := plainParams()
	params.TransformerReactivePowerControl = true
	net.ConnectedComponents()
	net.Bus("NGEN").Slack = true
	s, err := equation.Build(net, 0, params, nil)
	require.NoError(t, err)
	require.NoError(t, newton.NewInitializer(params.VoltageInitMode).Initialize(s))
	c := NewContext(s)

	tq := &TransformerReactivePower{}
	tq.Initialize(c)
	assert.False(t, br.ReactivePowerControl.Active, "平启动时不投入连续变比")
	require.NoError(t, s.Update())
	require.Equal(t, types.StatusConverged, newton.NewSolver(params, nil).Solve(s).Status)

	st, err := tq.Check(c)
	require.NoError(t, err)
	assert.Equal(t, types.OuterLoopUnstable, st)
	assert.True(t, br.ReactivePowerControl.Active)
	require.NoError(t, s.Update())
	assert.True(t, s.VarActive(equation.VarKey{Kind: equation.VarBranchRho, Element: br.Num}))
	res := newton.NewSolver(params, nil).Solve(s)
	require.Equal(t, types.StatusConverged, res.Status)
	assert.InDelta(t, 2.7, imag(net.TerminalPower(br, network.Side1)), 1e-3)
	lo, hi := br.RatioTap.StepAt(br.RatioTap.LowPosition).Rho, br.RatioTap.StepAt(br.RatioTap.HighPosition()).Rho
	assert.GreaterOrEqual(t, br.Rho, ratioBase(br)*min(lo, hi)-0.05)
	assert.LessOrEqual(t, br.Rho, ratioBase(br)*max(lo, hi)+0.05)
}

func TestReactiveLimits(t *testing.T) {
	net := network.NewEurostagTutorial()
	gen := net.Generator("GEN")
	gen.MaxQ = 2.0 // 200 MVar，维持 24.5kV 约需 225 MVar
	c, res, err := solve(t, net, plainParams(), "NGEN")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)
	assert.Equal(t, 1, res.OuterIterations)

	bus := net.Bus("NGEN")
	assert.False(t, bus.VoltageControlOn)
	assert.Equal(t, network.LimitMax, bus.QLimit)
	assert.Zero(t, bus.PqPvSwitches)
	assert.Less(t, bus.VoltageKV(), 24.5)
	assert.InDelta(t, 2.0, c.System.ReactiveGeneration(bus.Num), 1e-4)
	c.System.ComputeGeneration()
	assert.InDelta(t, 2.0, gen.Q, 1e-9)
}

func TestReactiveLimitsNoOscillation(t *testing.T) {
	// 100 MVar 下 PQ 解可能落在高电压解上，恢复 PV 后又越限
	net := network.NewEurostagTutorial()
	net.Generator("GEN").MaxQ = 1.0
	c, res, err := solve(t, net, plainParams(), "NGEN")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)
	assert.LessOrEqual(t, res.OuterIterations, 3)

	bus := net.Bus("NGEN")
	assert.False(t, bus.VoltageControlOn)
	assert.Equal(t, network.LimitMax, bus.QLimit)
	assert.InDelta(t, 1.0, c.System.ReactiveGeneration(bus.Num), 1e-4)
}

func TestReactiveLimitsLockAfterFailedSwitchBack(t *testing.T) {
	params := plainParams()
	net := network.NewEurostagTutorial()
	net.Generator("GEN").MaxQ = 1.0
	net.ConnectedComponents()
	net.Bus("NGEN").Slack = true
	s, err := equation.Build(net, 0, params, nil)
	require.NoError(t, err)
	c := NewContext(s)
	require.NoError(t, newton.NewInitializer(params.VoltageInitMode).Initialize(s))
	require.Equal(t, types.StatusConverged, newton.NewSolver(params, nil).Solve(s).Status)

	rl := &ReactiveLimits{}
	rl.Initialize(c)
	bus := net.Bus("NGEN")
	target := s.ControllerGroup(bus.Num).TargetV

	st, _ := rl.Check(c)
	require.Equal(t, types.OuterLoopUnstable, st)
	require.Equal(t, network.LimitMax, bus.QLimit)

	// 电压高于目标，恢复 PV
	bus.V = target + 0.01
	st, _ = rl.Check(c)
	require.Equal(t, types.OuterLoopUnstable, st)
	require.True(t, bus.VoltageControlOn)
	assert.Equal(t, 1, bus.PqPvSwitches)

	// 仍在同一限值越限，锁定为 PQ
	st, _ = rl.Check(c)
	require.Equal(t, types.OuterLoopUnstable, st)
	assert.False(t, bus.VoltageControlOn)
	assert.Equal(t, network.LimitMax, bus.QLimit)
	assert.Equal(t, params.MaxPqPvSwitch, bus.PqPvSwitches)

	bus.V = target + 0.01
	st, _ = rl.Check(c)
	assert.Equal(t, types.OuterLoopStable, st)
	assert.False(t, bus.VoltageControlOn)
}

func TestVoltageSlopeSolve(t *testing.T) {
	net := network.NewEurostagTutorial()
	gen := net.Generator("GEN")
	gen.Slope = 0.01
	c, res, err := solve(t, net, plainParams(), "NGEN")
	require.NoError(t, err)
	require.Equal(t, types.StatusConverged, res.Status)

	bus := net.Bus("NGEN")
	q := c.System.ReactiveGeneration(bus.Num)
	assert.Positive(t, q)
	assert.InDelta(t, gen.TargetV, bus.V+gen.Slope*q, 1e-4)
	assert.Less(t, bus.V, gen.TargetV)
}

func TestReactiveLimitsBackToPV(t *testing.T) {
	params := plainParams()
	c := eurostagContext(t, params)
	require.Equal(t, types.StatusConverged, newton.NewSolver(params, nil).Solve(c.System).Status)
	rl := &ReactiveLimits{}

	st, err := rl.Check(c)
	require.NoError(t, err)
	assert.Equal(t, types.OuterLoopStable, st)

	bus := c.Network.Bus("NGEN")
	g := c.System.ControllerGroup(bus.Num)
	require.NotNil(t, g)

	// 电压仍低于目标，保持 PQ
	bus.VoltageControlOn, bus.QLimit = false, network.LimitMax
	bus.V = g.TargetV - 0.01
	st, _ = rl.Check(c)
	assert.Equal(t, types.OuterLoopStable, st)
	assert.False(t, bus.VoltageControlOn)

	// 电压越过目标，恢复 PV
	bus.V = g.TargetV + 0.01
	st, _ = rl.Check(c)
	assert.Equal(t, types.OuterLoopUnstable, st)
	assert.True(t, bus.VoltageControlOn)
	assert.Equal(t, network.LimitNone, bus.QLimit)
	assert.Equal(t, 1, bus.PqPvSwitches)

	// 切换次数用尽
	bus.VoltageControlOn, bus.QLimit = false, network.LimitMax
	bus.PqPvSwitches = params.MaxPqPvSwitch
	st, _ = rl.Check(c)
	assert.Equal(t, types.OuterLoopStable, st)
	assert.False(t, bus.VoltageControlOn)
}
