package equation

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"

	"loadflow/network"
	"loadflow/types"
)

const (
	targetVoltageTolerance = 1e-6 // 共同控制的目标电压允许偏差(pu)
	minReactiveRange       = 1e-6 // 可参与调压的最小无功范围(pu)
)

// Build 为连通分量 comp 构建方程组
//
// 运行时控制状态（PV 标志、越限、控制投入）被重置，因此对同一网络快照重复
// 构建得到相同结果。目标矛盾返回 *ConsistencyError；其余配置问题只记录在
// Disabled 中并关闭对应控制。
func Build(net *network.Network, comp int, params *types.Parameters, logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &System{
		Network:    net,
		Component:  comp,
		Slack:      -1,
		params:     params,
		logger:     logger.With("component", comp),
		regulating: make(map[int]bool),
		controller: make(map[int]*GeneratorGroup),
		varIndex:   make(map[VarKey]*Variable),
		eqIndex:    make(map[Key]*Equation),
	}
	s.collect()
	if s.Slack < 0 {
		return nil, fmt.Errorf("equation: component %d has no slack bus", comp)
	}
	s.resetRuntime()
	for _, b := range s.Buses {
		s.addVariable(VarKey{VarBusV, b}).Active = true
		s.addVariable(VarKey{VarBusPhi, b}).Active = true
	}
	s.buildBusEquations()
	if err := s.buildGeneratorGroups(); err != nil {
		return nil, err
	}
	if err := s.buildTransformerGroups(); err != nil {
		return nil, err
	}
	if err := s.buildShuntGroups(); err != nil {
		return nil, err
	}
	s.buildReactivePowerControls()
	s.buildPhaseControls()
	s.buildAreas()
	if err := s.Update(); err != nil {
		return nil, err
	}
	s.logger.Debug("equation system built",
		"buses", len(s.Buses), "equations", len(s.eqs), "active", s.Dim(), "disabled", len(s.Disabled))
	return s, nil
}

// collect 收集分量内的元件
func (s *System) collect() {
	net := s.Network
	for _, b := range net.Buses {
		if b.Component != s.Component {
			continue
		}
		s.Buses = append(s.Buses, b.Num)
		if b.Slack && s.Slack < 0 {
			s.Slack = b.Num
		}
	}
	for _, br := range net.Branches {
		if net.BranchComponent(br) == s.Component {
			s.Branches = append(s.Branches, br.Num)
		}
	}
	for _, g := range net.Generators {
		if g.Connected && net.Buses[g.Bus].Component == s.Component {
			s.Generators = append(s.Generators, g.Num)
		}
	}
	for _, l := range net.Loads {
		if l.Connected && net.Buses[l.Bus].Component == s.Component {
			s.Loads = append(s.Loads, l.Num)
		}
	}
	for _, sh := range net.Shunts {
		if sh.Connected && net.Buses[sh.Bus].Component == s.Component {
			s.Shunts = append(s.Shunts, sh.Num)
		}
	}
}

// resetRuntime 清除上一次计算留下的控制状态
func (s *System) resetRuntime() {
	net := s.Network
	for _, b := range s.Buses {
		bus := net.Buses[b]
		bus.VoltageControlOn = false
		bus.QLimit = network.LimitNone
		bus.PqPvSwitches = 0
	}
	for _, gi := range s.Generators {
		g := net.Generators[gi]
		g.P, g.Q = g.TargetP, g.TargetQ
	}
	for _, li := range s.Loads {
		l := net.Loads[li]
		l.P, l.Q = l.P0, l.Q0
	}
	for _, n := range s.Branches {
		br := net.Branches[n]
		if br.VoltageControl != nil {
			br.VoltageControl.Active = false
		}
		if br.ReactivePowerControl != nil {
			br.ReactivePowerControl.Active = false
		}
		if br.PhaseControl != nil {
			br.PhaseControl.Active = false
		}
	}
	for _, si := range s.Shunts {
		if vc := net.Shunts[si].VoltageControl; vc != nil {
			vc.Active = false
		}
	}
}

func varTerm(kind VarKind, element int, coef float64) Term {
	return Term{Kind: TermVar, Coef: coef, Var: VarKey{kind, element}}
}

// FlowTerm 支路端口有功或无功项，对端断开时使用开路等值
func FlowTerm(br *network.Branch, side network.Side, reactive bool) Term {
	kind := TermBranchP
	switch {
	case br.Connected() && reactive:
		kind = TermBranchQ
	case !br.Connected() && reactive:
		kind = TermOpenQ
	case !br.Connected():
		kind = TermOpenP
	}
	return Term{Kind: kind, Element: br.Num, Side: side, Coef: 1}
}

// buildBusEquations 母线功率平衡（流出为正）与参考相角
func (s *System) buildBusEquations() {
	net := s.Network
	p := make(map[int][]Term, len(s.Buses))
	q := make(map[int][]Term, len(s.Buses))
	for _, n := range s.Branches {
		br := net.Branches[n]
		for _, side := range []network.Side{network.Side1, network.Side2} {
			if !br.ConnectedAt(side) {
				continue
			}
			bus := br.BusAt(side)
			p[bus] = append(p[bus], FlowTerm(br, side, false))
			q[bus] = append(q[bus], FlowTerm(br, side, true))
		}
	}
	for _, si := range s.Shunts {
		sh := net.Shunts[si]
		if sh.G != 0 {
			p[sh.Bus] = append(p[sh.Bus], Term{Kind: TermShuntP, Element: si, Coef: 1})
		}
		q[sh.Bus] = append(q[sh.Bus], Term{Kind: TermShuntQ, Element: si, Coef: 1})
	}
	for _, b := range s.Buses {
		s.addEquation(Key{BusP, b}, p[b])
		s.addEquation(Key{BusQ, b}, q[b])
	}
	s.addEquation(Key{BusPhi, s.Slack}, []Term{varTerm(VarBusPhi, s.Slack, 1)})
}

func (s *System) plausible(v float64) bool {
	return v >= s.params.MinPlausibleTargetVoltage && v <= s.params.MaxPlausibleTargetVoltage
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// generatorGroupOf 控制 bus 电压的发电机组
func (s *System) generatorGroupOf(bus int) *GeneratorGroup {
	for _, g := range s.GeneratorGroups {
		if g.Controlled == bus {
			return g
		}
	}
	return nil
}

// ControllerGroup 控制母线所属的发电机调压组
func (s *System) ControllerGroup(bus int) *GeneratorGroup { return s.controller[bus] }

// Regulating 发电机是否参与调压
func (s *System) Regulating(gen int) bool { return s.regulating[gen] }

func (s *System) generatorTargets(g *GeneratorGroup) (ids []string, kv []float64) {
	nom := s.Network.Buses[g.Controlled].NominalV
	for _, gi := range g.Generators {
		gen := s.Network.Generators[gi]
		ids = append(ids, gen.ID)
		kv = append(kv, gen.TargetV*nom)
	}
	return ids, kv
}

// buildGeneratorGroups 按被控母线归并调压发电机
func (s *System) buildGeneratorGroups() error {
	net, p := s.Network, s.params
	if !p.VoltageControl {
		return nil
	}
	byBus := make(map[int][]int)
	for _, gi := range s.Generators {
		g := net.Generators[gi]
		if !g.VoltageRegulatorOn {
			continue
		}
		bus, reg := net.Buses[g.Bus], net.Buses[g.RegulatedBus]
		switch {
		case p.GeneratorVoltageControlMinNominalVoltage > 0 && bus.NominalV < p.GeneratorVoltageControlMinNominalVoltage:
			s.disable("generator %s: bus %s nominal voltage %.4g kV below %.4g kV",
				g.ID, bus.ID, bus.NominalV, p.GeneratorVoltageControlMinNominalVoltage)
		case reg.Component != s.Component:
			s.disable("generator %s: regulated bus %s outside component", g.ID, reg.ID)
		case !s.plausible(g.TargetV):
			s.disable("generator %s: implausible target voltage %.4g kV", g.ID, g.TargetV*reg.NominalV)
		case g.MaxQ-g.MinQ < minReactiveRange:
			s.disable("generator %s: reactive range too small", g.ID)
		default:
			byBus[g.Bus] = append(byBus[g.Bus], gi)
		}
	}

	byControlled := make(map[int][]int)
	for _, b := range sortedKeys(byBus) {
		gens := byBus[b]
		first := net.Generators[gens[0]]
		for _, gi := range gens[1:] {
			g := net.Generators[gi]
			if g.RegulatedBus != first.RegulatedBus {
				return &ConsistencyError{
					Bus:         net.Buses[b].ID,
					Reason:      fmt.Sprintf("generators regulate different buses %s and %s", net.Buses[first.RegulatedBus].ID, net.Buses[g.RegulatedBus].ID),
					Controllers: []string{first.ID, g.ID},
				}
			}
		}
		byControlled[first.RegulatedBus] = append(byControlled[first.RegulatedBus], b)
	}

	for _, c := range sortedKeys(byControlled) {
		if gens, ok := byBus[c]; ok && net.Generators[gens[0]].RegulatedBus != c {
			g := net.Generators[gens[0]]
			return &ConsistencyError{
				Bus:         net.Buses[c].ID,
				Reason:      fmt.Sprintf("bus regulates remote bus %s and is itself remotely controlled", net.Buses[g.RegulatedBus].ID),
				Controllers: []string{g.ID},
			}
		}
		group := &GeneratorGroup{Controlled: c, Controllers: byControlled[c]}
		for _, b := range group.Controllers {
			group.Generators = append(group.Generators, byBus[b]...)
		}
		group.TargetV = net.Generators[group.Generators[0]].TargetV
		for _, gi := range group.Generators {
			if math.Abs(net.Generators[gi].TargetV-group.TargetV) > targetVoltageTolerance {
				ids, kv := s.generatorTargets(group)
				return &ConsistencyError{Bus: net.Buses[c].ID, Reason: "generators have different target voltages", Controllers: ids, Values: kv}
			}
		}
		if group.Local() && len(group.Generators) == 1 {
			group.Slope = net.Generators[group.Generators[0]].Slope
		}
		for _, gi := range group.Generators {
			s.regulating[gi] = true
		}
		for _, b := range group.Controllers {
			s.controller[b] = group
			net.Buses[b].VoltageControlOn = true
			if len(group.Controllers) > 1 {
				s.addEquation(Key{BusQDistribution, b}, nil)
			}
		}
		if group.Slope != 0 {
			s.addEquation(Key{BusVSlope, c}, nil)
		} else {
			s.addEquation(Key{BusV, c}, []Term{varTerm(VarBusV, c, 1)})
		}
		s.GeneratorGroups = append(s.GeneratorGroups, group)
	}
	return nil
}

// buildTransformerGroups 变压器电压控制，发电机优先
func (s *System) buildTransformerGroups() error {
	net, p := s.Network, s.params
	if !p.TransformerVoltageControl {
		return nil
	}
	byBus := make(map[int][]int)
	for _, n := range s.Branches {
		br := net.Branches[n]
		vc := br.VoltageControl
		if vc == nil || !vc.Enabled || br.RatioTap == nil {
			continue
		}
		reg := net.Buses[vc.RegulatedBus]
		switch {
		case !br.Connected():
			s.disable("transformer %s: not connected on both sides, voltage control off", br.ID)
		case reg.Component != s.Component:
			s.disable("transformer %s: regulated bus %s outside component", br.ID, reg.ID)
		case !s.plausible(vc.TargetV):
			s.disable("transformer %s: implausible target voltage %.4g kV", br.ID, vc.TargetV*reg.NominalV)
		default:
			byBus[vc.RegulatedBus] = append(byBus[vc.RegulatedBus], n)
		}
	}
	for _, c := range sortedKeys(byBus) {
		members := byBus[c]
		bus := net.Buses[c]
		ref := net.Branches[members[0]].VoltageControl
		var ids []string
		var kv []float64
		deadband := math.Inf(1)
		for _, n := range members {
			vc := net.Branches[n].VoltageControl
			ids = append(ids, net.Branches[n].ID)
			kv = append(kv, vc.TargetV*bus.NominalV)
			deadband = math.Min(deadband, vc.Deadband)
		}
		for _, n := range members {
			if math.Abs(net.Branches[n].VoltageControl.TargetV-ref.TargetV) > targetVoltageTolerance {
				return &ConsistencyError{Bus: bus.ID, Reason: "transformers have different target voltages", Controllers: ids, Values: kv}
			}
		}
		if g := s.generatorGroupOf(c); g != nil {
			if math.Abs(g.TargetV-ref.TargetV) > targetVoltageTolerance {
				gids, gkv := s.generatorTargets(g)
				return &ConsistencyError{
					Bus: bus.ID, Reason: "generator and transformer target voltages differ",
					Controllers: append(gids, ids...), Values: append(gkv, kv...),
				}
			}
			s.disable("transformers %s: bus %s already controlled by generators", strings.Join(ids, ","), bus.ID)
			continue
		}
		s.TransformerGroups = append(s.TransformerGroups, &TransformerGroup{
			Controlled: c, Branches: members, TargetV: ref.TargetV, Deadband: deadband,
		})
		s.addEquation(Key{BusV, c}, []Term{varTerm(VarBusV, c, 1)})
		for i, n := range members {
			s.addVariable(VarKey{VarBranchRho, n})
			if i > 0 {
				first, br := net.Branches[members[0]], net.Branches[n]
				s.addEquation(Key{BranchRhoDistribution, n}, []Term{
					varTerm(VarBranchRho, n, 1/br.NominalRatio),
					varTerm(VarBranchRho, first.Num, -1/first.NominalRatio),
				})
			}
		}
	}
	return nil
}

// buildShuntGroups 并联补偿电压控制，优先级最低
func (s *System) buildShuntGroups() error {
	net, p := s.Network, s.params
	if !p.ShuntVoltageControl {
		return nil
	}
	byBus := make(map[int][]int)
	for _, si := range s.Shunts {
		sh := net.Shunts[si]
		vc := sh.VoltageControl
		if vc == nil || !vc.Enabled {
			continue
		}
		reg := net.Buses[vc.RegulatedBus]
		switch {
		case sh.MaxSectionCount == 0 || sh.BPerSection == 0:
			s.disable("shunt %s: no switchable susceptance", sh.ID)
		case reg.Component != s.Component:
			s.disable("shunt %s: regulated bus %s outside component", sh.ID, reg.ID)
		case !s.plausible(vc.TargetV):
			s.disable("shunt %s: implausible target voltage %.4g kV", sh.ID, vc.TargetV*reg.NominalV)
		default:
			byBus[vc.RegulatedBus] = append(byBus[vc.RegulatedBus], si)
		}
	}
	for _, c := range sortedKeys(byBus) {
		members := byBus[c]
		bus := net.Buses[c]
		ref := net.Shunts[members[0]].VoltageControl
		var ids []string
		var kv []float64
		deadband := math.Inf(1)
		for _, si := range members {
			vc := net.Shunts[si].VoltageControl
			ids = append(ids, net.Shunts[si].ID)
			kv = append(kv, vc.TargetV*bus.NominalV)
			deadband = math.Min(deadband, vc.Deadband)
		}
		for _, si := range members {
			if math.Abs(net.Shunts[si].VoltageControl.TargetV-ref.TargetV) > targetVoltageTolerance {
				return &ConsistencyError{Bus: bus.ID, Reason: "shunts have different target voltages", Controllers: ids, Values: kv}
			}
		}
		other, otherTarget, otherIDs, otherKV := "", 0.0, []string(nil), []float64(nil)
		if g := s.generatorGroupOf(c); g != nil {
			other, otherTarget = "generators", g.TargetV
			otherIDs, otherKV = s.generatorTargets(g)
		} else if i := slices.IndexFunc(s.TransformerGroups, func(t *TransformerGroup) bool { return t.Controlled == c }); i >= 0 {
			t := s.TransformerGroups[i]
			other, otherTarget = "transformers", t.TargetV
			for _, n := range t.Branches {
				otherIDs = append(otherIDs, net.Branches[n].ID)
				otherKV = append(otherKV, t.TargetV*bus.NominalV)
			}
		}
		if other != "" {
			if math.Abs(otherTarget-ref.TargetV) > targetVoltageTolerance {
				return &ConsistencyError{
					Bus: bus.ID, Reason: other + " and shunt target voltages differ",
					Controllers: append(otherIDs, ids...), Values: append(otherKV, kv...),
				}
			}
			s.disable("shunts %s: bus %s already controlled by %s", strings.Join(ids, ","), bus.ID, other)
			continue
		}
		s.ShuntGroups = append(s.ShuntGroups, &ShuntGroup{
			Controlled: c, Shunts: members, TargetV: ref.TargetV, Deadband: deadband,
		})
		s.addEquation(Key{BusV, c}, []Term{varTerm(VarBusV, c, 1)})
		first := net.Shunts[members[0]]
		for i, si := range members {
			s.addVariable(VarKey{VarShuntB, si})
			if i > 0 {
				sh := net.Shunts[si]
				s.addEquation(Key{ShuntBDistribution, si}, []Term{
					varTerm(VarShuntB, si, 1/sh.SectionB(sh.MaxSectionCount)),
					varTerm(VarShuntB, first.Num, -1/first.SectionB(first.MaxSectionCount)),
				})
			}
		}
	}
	return nil
}

// resolveFlowControl 查找被控支路，无法控制时返回原因
func (s *System) resolveFlowControl(br *network.Branch, regulated string, side network.Side) (*FlowControl, string) {
	reg := s.Network.Branch(regulated)
	switch {
	case reg == nil:
		return nil, fmt.Sprintf("regulated branch %q not found", regulated)
	case !reg.ConnectedAt(side):
		return nil, fmt.Sprintf("regulated terminal %s %s disconnected", reg.ID, side)
	case s.Network.BranchComponent(reg) != s.Component:
		return nil, fmt.Sprintf("regulated branch %s outside component", reg.ID)
	}
	return &FlowControl{Branch: br.Num, Regulated: reg.Num, Side: side}, ""
}

// buildReactivePowerControls 变压器无功控制，与电压控制互斥
func (s *System) buildReactivePowerControls() {
	net := s.Network
	if !s.params.TransformerReactivePowerControl {
		return
	}
	for _, n := range s.Branches {
		br := net.Branches[n]
		rc := br.ReactivePowerControl
		if rc == nil || !rc.Enabled {
			continue
		}
		switch {
		case br.RatioTap == nil:
			s.disable("transformer %s: reactive power control without ratio tap changer", br.ID)
			continue
		case s.varIndex[VarKey{VarBranchRho, n}] != nil:
			s.disable("transformer %s: already controls voltage, reactive power control off", br.ID)
			continue
		case !br.Connected():
			s.disable("transformer %s: not connected on both sides, reactive power control off", br.ID)
			continue
		}
		fc, reason := s.resolveFlowControl(br, rc.RegulatedBranch, rc.Side)
		if fc == nil {
			s.disable("transformer %s: %s, reactive power control off", br.ID, reason)
			continue
		}
		s.ReactivePowerControls = append(s.ReactivePowerControls, fc)
		s.addVariable(VarKey{VarBranchRho, n})
		s.addEquation(Key{BranchQ, n}, []Term{FlowTerm(net.Branches[fc.Regulated], fc.Side, true)})
	}
}

// buildPhaseControls 移相器控制；桥支路上的移相器不能调节
func (s *System) buildPhaseControls() {
	net := s.Network
	if !s.params.PhaseShifterRegulation {
		return
	}
	var bridges map[int]bool
	for _, n := range s.Branches {
		br := net.Branches[n]
		pc := br.PhaseControl
		if br.PhaseTap == nil || pc == nil || !pc.Enabled || pc.Mode == types.PhaseFixedTap {
			continue
		}
		if !br.Connected() {
			s.disable("phase shifter %s: not connected on both sides", br.ID)
			continue
		}
		if bridges == nil {
			bridges = net.Bridges()
		}
		if bridges[n] {
			s.disable("phase shifter %s: opening it would split the network", br.ID)
			continue
		}
		fc, reason := s.resolveFlowControl(br, pc.RegulatedBranch, pc.Side)
		if fc == nil {
			s.disable("phase shifter %s: %s", br.ID, reason)
			continue
		}
		s.PhaseControls = append(s.PhaseControls, fc)
		if pc.Mode == types.PhaseActivePowerControl {
			s.addVariable(VarKey{VarBranchAlpha, n})
			s.addEquation(Key{BranchP, n}, []Term{FlowTerm(net.Branches[fc.Regulated], fc.Side, false)})
		}
	}
}

// buildAreas 区域交换功率，边界不全在分量内的区域被排除
func (s *System) buildAreas() {
	net := s.Network
	if !s.params.AreaInterchangeControl {
		return
	}
	for _, a := range net.Areas {
		if !slices.ContainsFunc(a.Buses, func(b int) bool { return net.Buses[b].Component == s.Component }) {
			continue
		}
		var terms []Term
		ok := true
		for _, bd := range a.Boundaries {
			br := net.Branches[bd.Branch]
			if !br.ConnectedAt(bd.Side) || net.Buses[br.BusAt(bd.Side)].Component != s.Component {
				ok = false
				break
			}
			terms = append(terms, FlowTerm(br, bd.Side, false))
		}
		if !ok {
			s.ExcludedAreas = append(s.ExcludedAreas, a.Num)
			s.disable("area %s: boundary outside component, interchange control off", a.ID)
			continue
		}
		s.Areas = append(s.Areas, a.Num)
		s.addEquation(Key{AreaInterchange, a.Num}, terms)
	}
}
