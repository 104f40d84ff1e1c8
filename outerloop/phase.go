package outerloop

import (
	"math"

	"loadflow/equation"
	"loadflow/network"
	"loadflow/types"
)

// PhaseControl 移相器控制
//
// 有功控制按 PhaseShifterControlMode 连续后取整或增量调节；限流控制只在
// 监视电流超过限值时逐档调节，否则不动作。
type PhaseControl struct {
	Mode types.PhaseShifterControlMode
	rounding
}

func (*PhaseControl) Name() string { return "phase control" }

func (pc *PhaseControl) controls(c *Context, mode types.PhaseRegulationMode) []*equation.FlowControl {
	var out []*equation.FlowControl
	for _, fc := range c.System.PhaseControls {
		if c.Network.Branches[fc.Branch].PhaseControl.Mode == mode {
			out = append(out, fc)
		}
	}
	return out
}

func (pc *PhaseControl) Initialize(c *Context) {
	if pc.Mode == types.PhaseShifterIncremental || len(pc.controls(c, types.PhaseActivePowerControl)) == 0 {
		pc.stage = stageRounded
		return
	}
	pc.activate(c, true)
	pc.stage = stageContinuous
}

func (pc *PhaseControl) activate(c *Context, on bool) {
	for _, fc := range pc.controls(c, types.PhaseActivePowerControl) {
		c.Network.Branches[fc.Branch].PhaseControl.Active = on
	}
}

func (pc *PhaseControl) Check(c *Context) (types.OuterLoopStatus, error) {
	var status types.OuterLoopStatus
	if pc.Mode == types.PhaseShifterIncremental {
		st, err := pc.incremental(c)
		if err != nil || st == types.OuterLoopFailed {
			return st, err
		}
		status = st
	} else {
		status = pc.check(func() { pc.activate(c, true) }, func() {
			for _, fc := range pc.controls(c, types.PhaseActivePowerControl) {
				br := c.Network.Branches[fc.Branch]
				tap := br.PhaseTap
				pos := tap.NearestAlpha(br.Alpha)
				c.Logger.Debug("phase tap rounded", "branch", br.ID, "alpha", br.Alpha*180/math.Pi, "from", tap.Position, "to", pos)
				tap.Position = pos
			}
			pc.activate(c, false)
		})
	}
	st, err := pc.limit(c)
	if err != nil || st == types.OuterLoopFailed {
		return st, err
	}
	if st == types.OuterLoopUnstable {
		status = st
	}
	return status, nil
}

// incremental 有功控制按灵敏度估计所需相移并跳到最近档位，估计档位不变时
// 退回相邻档位比较
func (pc *PhaseControl) incremental(c *Context) (types.OuterLoopStatus, error) {
	status := types.OuterLoopStable
	for _, fc := range pc.controls(c, types.PhaseActivePowerControl) {
		br := c.Network.Branches[fc.Branch]
		ctl := br.PhaseControl
		p := c.flowTerms(fc.Regulated, fc.Side, false)
		e := c.System.TermsValue(p) - ctl.Target
		if !outside(e, ctl.Deadband) {
			continue
		}
		sens, err := c.Sensitivity(alphaKey(br), p)
		if err != nil {
			c.Logger.Warn("phase shifter sensitivity", "branch", br.ID, "err", err)
			return types.OuterLoopFailed, nil
		}
		tap := br.PhaseTap
		pos := tap.Position
		if sens != 0 {
			pos = tap.NearestAlpha(tap.Step().Alpha - e/sens)
		}
		if pos == tap.Position {
			pos = bestPosition(tap.Position, tap.LowPosition, tap.HighPosition(), e, sens,
				func(p int) float64 { return tap.StepAt(p).Alpha })
		}
		if pos != tap.Position {
			c.Logger.Debug("phase tap moved", "branch", br.ID, "from", tap.Position, "to", pos, "error", c.Network.MW(e))
			tap.Position = pos
			status = types.OuterLoopUnstable
		}
	}
	return status, nil
}

// limit 限流控制：电流越限时向电流减小的方向移动一档
func (pc *PhaseControl) limit(c *Context) (types.OuterLoopStatus, error) {
	status := types.OuterLoopStable
	net := c.Network
	for _, fc := range pc.controls(c, types.PhaseCurrentLimiter) {
		br := net.Branches[fc.Branch]
		ctl := br.PhaseControl
		reg := net.Branches[fc.Regulated]
		i := net.CurrentAmpere(reg, fc.Side)
		if !(i > ctl.Target) {
			continue
		}
		s := net.TerminalPower(reg, fc.Side)
		dp, err := c.Sensitivity(alphaKey(br), c.flowTerms(fc.Regulated, fc.Side, false))
		if err != nil {
			return types.OuterLoopFailed, nil
		}
		dq, err := c.Sensitivity(alphaKey(br), c.flowTerms(fc.Regulated, fc.Side, true))
		if err != nil {
			return types.OuterLoopFailed, nil
		}
		// 电流与视在功率成正比（忽略电压变化）
		mag2 := real(s)*real(s) + imag(s)*imag(s)
		if mag2 == 0 {
			continue
		}
		sens := i * (real(s)*dp + imag(s)*dq) / mag2
		tap := br.PhaseTap
		best, bestI := tap.Position, i
		for _, p := range []int{tap.Position - 1, tap.Position + 1} {
			if !tap.InRange(p) {
				continue
			}
			if in := i + sens*(tap.StepAt(p).Alpha-tap.Step().Alpha); in < bestI {
				best, bestI = p, in
			}
		}
		if best == tap.Position {
			c.Logger.Debug("current limiter at limit", "branch", br.ID, "current", i, "limit", ctl.Target)
			continue
		}
		c.Logger.Debug("current limiter moved", "branch", br.ID, "from", tap.Position, "to", best, "current", i, "limit", ctl.Target)
		tap.Position = best
		status = types.OuterLoopUnstable
	}
	return status, nil
}

func alphaKey(br *network.Branch) equation.VarKey {
	return equation.VarKey{Kind: equation.VarBranchAlpha, Element: br.Num}
}
