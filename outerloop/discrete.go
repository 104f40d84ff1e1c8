package outerloop

import (
	"math"

	"loadflow/equation"
	"loadflow/network"
	"loadflow/types"
)

// stage 连续后取整控制的阶段
type stage int

const (
	stageIdle       stage = iota // 等待投入
	stageContinuous              // 连续变量求解中
	stageRounded                 // 已取整固定
)

// rounding 连续后取整：投入连续变量求解一次，再取最近档位固定后重新求解
type rounding struct {
	stage stage
}

func (r *rounding) check(activate, round func()) types.OuterLoopStatus {
	switch r.stage {
	case stageIdle:
		activate()
		r.stage = stageContinuous
		return types.OuterLoopUnstable
	case stageContinuous:
		round()
		r.stage = stageRounded
		return types.OuterLoopUnstable
	}
	return types.OuterLoopStable
}

// bestPosition 相邻档位中估计误差最小的档位，没有改善时返回当前档位
//
// e 为当前误差，sens 为被控量对连续量的灵敏度，value 给出档位对应的连续量。
func bestPosition(pos, low, high int, e, sens float64, value func(int) float64) int {
	best, bestErr := pos, math.Abs(e)
	for _, p := range []int{pos - 1, pos + 1} {
		if p < low || p > high {
			continue
		}
		if en := math.Abs(e + sens*(value(p)-value(pos))); en < bestErr {
			best, bestErr = p, en
		}
	}
	return best
}

// outside 误差超出死区（死区为全宽）
func outside(e, deadband float64) bool {
	return math.Abs(e) > deadband/2
}

// ratioBase 除有载分接头外的变比因子
func ratioBase(br *network.Branch) float64 {
	return br.TapRho() / br.RatioTap.Step().Rho
}

// roundRatio 将连续变比取整到最近档位
func roundRatio(c *Context, br *network.Branch) {
	tap := br.RatioTap
	pos := tap.NearestRho(br.Rho / ratioBase(br))
	if pos != tap.Position {
		c.Logger.Debug("ratio tap rounded", "branch", br.ID, "from", tap.Position, "to", pos, "rho", br.Rho)
	}
	tap.Position = pos
}

// stepRatio 增量调节一档，返回是否移动
func stepRatio(c *Context, br *network.Branch, e float64, quantity []equation.Term) (bool, error) {
	sens, err := c.Sensitivity(equation.VarKey{Kind: equation.VarBranchRho, Element: br.Num}, quantity)
	if err != nil {
		return false, err
	}
	tap := br.RatioTap
	base := ratioBase(br)
	pos := bestPosition(tap.Position, tap.LowPosition, tap.HighPosition(), e, sens,
		func(p int) float64 { return base * tap.StepAt(p).Rho })
	if pos == tap.Position {
		return false, nil
	}
	c.Logger.Debug("ratio tap moved", "branch", br.ID, "from", tap.Position, "to", pos, "error", e, "sensitivity", sens)
	tap.Position = pos
	return true, nil
}

// TransformerVoltage 变压器电压控制
//
// WITH_GENERATOR_VOLTAGE_CONTROL 从首次求解起投入连续变比；
// AFTER_GENERATOR_VOLTAGE_CONTROL 等前序控制器稳定后再投入；
// INCREMENTAL_VOLTAGE_CONTROL 每轮按灵敏度移动一档。
type TransformerVoltage struct {
	Mode types.TransformerVoltageControlMode
	rounding
}

func (*TransformerVoltage) Name() string { return "transformer voltage control" }

func (tv *TransformerVoltage) Initialize(c *Context) {
	switch {
	case len(c.System.TransformerGroups) == 0 || tv.Mode == types.TransformerIncrementalVoltageControl:
		tv.stage = stageRounded
	case tv.Mode == types.TransformerWithGeneratorVoltageControl:
		tv.activate(c, true)
		tv.stage = stageContinuous
	}
}

func (tv *TransformerVoltage) activate(c *Context, on bool) {
	for _, g := range c.System.TransformerGroups {
		for _, n := range g.Branches {
			c.Network.Branches[n].VoltageControl.Active = on
		}
	}
}

func (tv *TransformerVoltage) Check(c *Context) (types.OuterLoopStatus, error) {
	if tv.Mode == types.TransformerIncrementalVoltageControl {
		return tv.incremental(c)
	}
	return tv.check(func() { tv.activate(c, true) }, func() {
		for _, g := range c.System.TransformerGroups {
			for _, n := range g.Branches {
				roundRatio(c, c.Network.Branches[n])
			}
		}
		tv.activate(c, false)
	}), nil
}

func (tv *TransformerVoltage) incremental(c *Context) (types.OuterLoopStatus, error) {
	status := types.OuterLoopStable
	for _, g := range c.System.TransformerGroups {
		e := c.Network.Buses[g.Controlled].V - g.TargetV
		if !outside(e, g.Deadband) {
			continue
		}
		for _, n := range g.Branches {
			moved, err := stepRatio(c, c.Network.Branches[n], e, voltageTerms(g.Controlled))
			if err != nil {
				c.Logger.Warn("transformer voltage sensitivity", "err", err)
				return types.OuterLoopFailed, nil
			}
			if moved {
				status = types.OuterLoopUnstable
				break
			}
		}
	}
	return status, nil
}

// ShuntVoltage 并联补偿电压控制，连续电纳后取整或增量投切
type ShuntVoltage struct {
	Mode types.ShuntVoltageControlMode
	rounding
}

func (*ShuntVoltage) Name() string { return "shunt voltage control" }

func (sv *ShuntVoltage) Initialize(c *Context) {
	if len(c.System.ShuntGroups) == 0 || sv.Mode == types.ShuntIncrementalVoltageControl {
		sv.stage = stageRounded
		return
	}
	sv.activate(c, true)
	sv.stage = stageContinuous
}

func (sv *ShuntVoltage) activate(c *Context, on bool) {
	for _, g := range c.System.ShuntGroups {
		for _, si := range g.Shunts {
			c.Network.Shunts[si].VoltageControl.Active = on
		}
	}
}

func (sv *ShuntVoltage) Check(c *Context) (types.OuterLoopStatus, error) {
	if sv.Mode == types.ShuntIncrementalVoltageControl {
		return sv.incremental(c)
	}
	return sv.check(func() { sv.activate(c, true) }, func() {
		for _, g := range c.System.ShuntGroups {
			for _, si := range g.Shunts {
				sh := c.Network.Shunts[si]
				n := int(math.Round(sh.B / sh.BPerSection))
				n = max(0, min(sh.MaxSectionCount, n))
				c.Logger.Debug("shunt sections rounded", "shunt", sh.ID, "b", sh.B, "sections", n)
				sh.SectionCount = n
			}
		}
		sv.activate(c, false)
	}), nil
}

func (sv *ShuntVoltage) incremental(c *Context) (types.OuterLoopStatus, error) {
	status := types.OuterLoopStable
	for _, g := range c.System.ShuntGroups {
		e := c.Network.Buses[g.Controlled].V - g.TargetV
		if !outside(e, g.Deadband) {
			continue
		}
		for _, si := range g.Shunts {
			sh := c.Network.Shunts[si]
			sens, err := c.Sensitivity(equation.VarKey{Kind: equation.VarShuntB, Element: si}, voltageTerms(g.Controlled))
			if err != nil {
				c.Logger.Warn("shunt voltage sensitivity", "err", err)
				return types.OuterLoopFailed, nil
			}
			n := bestPosition(sh.SectionCount, 0, sh.MaxSectionCount, e, sens, sh.SectionB)
			if n != sh.SectionCount {
				c.Logger.Debug("shunt section switched", "shunt", sh.ID, "from", sh.SectionCount, "to", n, "error", e)
				sh.SectionCount = n
				status = types.OuterLoopUnstable
				break
			}
		}
	}
	return status, nil
}

// TransformerReactivePower 变压器无功控制
//
// 连续模式在首次牛顿收敛后才投入连续变比。
type TransformerReactivePower struct {
	Incremental bool
	rounding
}

func (*TransformerReactivePower) Name() string { return "transformer reactive power control" }

func (tq *TransformerReactivePower) Initialize(c *Context) {
	if len(c.System.ReactivePowerControls) == 0 || tq.Incremental {
		tq.stage = stageRounded
		return
	}
	tq.stage = stageIdle
}

func (tq *TransformerReactivePower) activate(c *Context, on bool) {
	for _, fc := range c.System.ReactivePowerControls {
		c.Network.Branches[fc.Branch].ReactivePowerControl.Active = on
	}
}

func (tq *TransformerReactivePower) Check(c *Context) (types.OuterLoopStatus, error) {
	if !tq.Incremental {
		return tq.check(func() { tq.activate(c, true) }, func() {
			for _, fc := range c.System.ReactivePowerControls {
				roundRatio(c, c.Network.Branches[fc.Branch])
			}
			tq.activate(c, false)
		}), nil
	}
	status := types.OuterLoopStable
	for _, fc := range c.System.ReactivePowerControls {
		br := c.Network.Branches[fc.Branch]
		rc := br.ReactivePowerControl
		q := c.flowTerms(fc.Regulated, fc.Side, true)
		e := c.System.TermsValue(q) - rc.TargetQ
		if !outside(e, rc.Deadband) {
			continue
		}
		moved, err := stepRatio(c, br, e, q)
		if err != nil {
			c.Logger.Warn("transformer reactive power sensitivity", "err", err)
			return types.OuterLoopFailed, nil
		}
		if moved {
			status = types.OuterLoopUnstable
		}
	}
	return status, nil
}
