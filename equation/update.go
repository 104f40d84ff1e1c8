package equation

import (
	"loadflow/network"
)

// busInjection 母线注入汇总(pu)
type busInjection struct {
	p, qload, qfixed float64
	qmin, qmax       float64 // 参与调压发电机的无功限值之和
}

func (s *System) injections() map[int]*busInjection {
	net := s.Network
	inj := make(map[int]*busInjection, len(s.Buses))
	at := func(b int) *busInjection {
		if v, ok := inj[b]; ok {
			return v
		}
		v := &busInjection{}
		inj[b] = v
		return v
	}
	for _, gi := range s.Generators {
		g := net.Generators[gi]
		v := at(g.Bus)
		v.p += g.P
		if s.regulating[gi] {
			v.qmin += g.MinQ
			v.qmax += g.MaxQ
		} else {
			v.qfixed += g.TargetQ
		}
	}
	for _, li := range s.Loads {
		l := net.Loads[li]
		v := at(l.Bus)
		v.p -= l.P
		v.qload += l.Q
	}
	return inj
}

// ReactiveRange 控制母线上调压发电机的无功上下限之和(pu)
func (s *System) ReactiveRange(bus int) (qmin, qmax float64) {
	if v := s.injections()[bus]; v != nil {
		return v.qmin, v.qmax
	}
	return 0, 0
}

// ReactiveGeneration 控制母线上调压发电机的总无功出力(pu)
func (s *System) ReactiveGeneration(bus int) float64 {
	return s.reactiveGeneration(bus, s.injections())
}

func (s *System) reactiveGeneration(bus int, inj map[int]*busInjection) float64 {
	v := inj[bus]
	q := s.TermsValue(s.eqIndex[Key{BusQ, bus}].Terms)
	if v != nil {
		q += v.qload - v.qfixed
	}
	return q
}

// PVControllers 调压组中当前为 PV 的控制母线
func (s *System) PVControllers(g *GeneratorGroup) []int {
	var out []int
	for _, b := range g.Controllers {
		if s.Network.Buses[b].VoltageControlOn {
			out = append(out, b)
		}
	}
	return out
}

// Update 按网络控制状态刷新方程激活、目标值与非激活变量，并重新编号
func (s *System) Update() error {
	net := s.Network
	inj := s.injections()
	get := func(b int) busInjection {
		if v := inj[b]; v != nil {
			return *v
		}
		return busInjection{}
	}

	for _, b := range s.Buses {
		bus := net.Buses[b]
		v := get(b)
		peq := s.eqIndex[Key{BusP, b}]
		peq.Active = b != s.Slack
		peq.Target = v.p

		qeq := s.eqIndex[Key{BusQ, b}]
		q := v.qfixed - v.qload
		if s.controller[b] != nil {
			switch bus.QLimit {
			case network.LimitMin:
				q += v.qmin
			case network.LimitMax:
				q += v.qmax
			default:
				for _, gi := range s.Generators {
					if g := net.Generators[gi]; g.Bus == b && s.regulating[gi] {
						q += g.TargetQ
					}
				}
			}
		}
		qeq.Target = q
		qeq.Active = !(s.controller[b] != nil && bus.VoltageControlOn)
	}
	s.eqIndex[Key{BusPhi, s.Slack}].Active = true

	for _, g := range s.GeneratorGroups {
		s.updateGeneratorGroup(g, get)
	}
	for _, t := range s.TransformerGroups {
		active := net.Branches[t.Branches[0]].VoltageControl.Active
		eq := s.eqIndex[Key{BusV, t.Controlled}]
		eq.Active, eq.Target = active, t.TargetV
		for _, n := range t.Branches {
			s.setVarActive(VarKey{VarBranchRho, n}, active)
			s.setActive(Key{BranchRhoDistribution, n}, active)
		}
	}
	for _, sg := range s.ShuntGroups {
		active := net.Shunts[sg.Shunts[0]].VoltageControl.Active
		eq := s.eqIndex[Key{BusV, sg.Controlled}]
		eq.Active, eq.Target = active, sg.TargetV
		for _, si := range sg.Shunts {
			s.setVarActive(VarKey{VarShuntB, si}, active)
			s.setActive(Key{ShuntBDistribution, si}, active)
		}
	}
	for _, fc := range s.ReactivePowerControls {
		rc := net.Branches[fc.Branch].ReactivePowerControl
		eq := s.eqIndex[Key{BranchQ, fc.Branch}]
		eq.Active, eq.Target = rc.Active, rc.TargetQ
		s.setVarActive(VarKey{VarBranchRho, fc.Branch}, rc.Active)
	}
	for _, fc := range s.PhaseControls {
		pc := net.Branches[fc.Branch].PhaseControl
		if eq := s.eqIndex[Key{BranchP, fc.Branch}]; eq != nil {
			eq.Active, eq.Target = pc.Active, pc.Target
			s.setVarActive(VarKey{VarBranchAlpha, fc.Branch}, pc.Active)
		}
	}
	for _, a := range s.Areas {
		eq := s.eqIndex[Key{AreaInterchange, a}]
		eq.Active, eq.Target = false, net.Areas[a].Target
	}

	// 非激活的离散变量取分接头/投切组数对应的值
	for _, n := range s.Branches {
		br := net.Branches[n]
		if !s.VarActive(VarKey{VarBranchRho, n}) {
			br.Rho = br.TapRho()
		}
		if !s.VarActive(VarKey{VarBranchAlpha, n}) {
			br.Alpha = br.TapAlpha()
		}
	}
	for _, si := range s.Shunts {
		if sh := net.Shunts[si]; !s.VarActive(VarKey{VarShuntB, si}) {
			sh.B = sh.SectionB(sh.SectionCount)
		}
	}
	return s.Index()
}

// updateGeneratorGroup 电压方程与无功分配方程，以第一个 PV 控制母线为参考
func (s *System) updateGeneratorGroup(g *GeneratorGroup, get func(int) busInjection) {
	pv := s.PVControllers(g)
	c := g.Controlled
	if g.Slope != 0 {
		v := get(c)
		eq := s.eqIndex[Key{BusVSlope, c}]
		eq.Terms = append([]Term{varTerm(VarBusV, c, 1)}, scaled(s.eqIndex[Key{BusQ, c}].Terms, g.Slope)...)
		eq.Target = g.TargetV - g.Slope*(v.qload-v.qfixed)
		eq.Active = len(pv) > 0
	} else {
		eq := s.eqIndex[Key{BusV, c}]
		eq.Active, eq.Target = len(pv) > 0, g.TargetV
	}
	if len(g.Controllers) < 2 {
		return
	}
	for _, b := range g.Controllers {
		s.setActive(Key{BusQDistribution, b}, false)
	}
	if len(pv) < 2 {
		return
	}
	ref := get(pv[0])
	kr := ref.qmax - ref.qmin
	refTerms := scaled(s.eqIndex[Key{BusQ, pv[0]}].Terms, -1/kr)
	for _, b := range pv[1:] {
		v := get(b)
		k := v.qmax - v.qmin
		eq := s.eqIndex[Key{BusQDistribution, b}]
		eq.Terms = append(scaled(s.eqIndex[Key{BusQ, b}].Terms, 1/k), refTerms...)
		eq.Target = (ref.qload-ref.qfixed)/kr - (v.qload-v.qfixed)/k
		eq.Active = true
	}
}

// SlackMismatch 平衡节点有功残差(pu)，正值表示需要增加发电
func (s *System) SlackMismatch() float64 {
	return s.Eval(s.eqIndex[Key{BusP, s.Slack}])
}

// Interchange 区域交换功率(pu)，输出为正
func (s *System) Interchange(area int) float64 {
	if eq := s.eqIndex[Key{AreaInterchange, area}]; eq != nil {
		return s.TermsValue(eq.Terms)
	}
	return 0
}

// ComputeGeneration 写入发电机出力结果
//
// 平衡节点残差按最大出力比例计入平衡节点上的发电机；PV 控制母线的无功
// 按无功范围内的相同相对位置分给调压发电机。
func (s *System) ComputeGeneration() {
	net := s.Network
	mismatch := s.SlackMismatch()
	total := 0.0
	var slackGens []int
	for _, gi := range s.Generators {
		g := net.Generators[gi]
		g.Q = g.TargetQ
		if g.Bus == s.Slack {
			slackGens = append(slackGens, gi)
			total += g.MaxP
		}
	}
	for _, gi := range slackGens {
		g := net.Generators[gi]
		share := 1 / float64(len(slackGens))
		if total > 0 {
			share = g.MaxP / total
		}
		g.P += mismatch * share
	}
	inj := s.injections()
	for b, group := range s.controller {
		bus := net.Buses[b]
		qmin, qmax := inj[b].qmin, inj[b].qmax
		var q float64
		switch {
		case bus.VoltageControlOn:
			q = s.reactiveGeneration(b, inj)
		case bus.QLimit == network.LimitMin:
			q = qmin
		case bus.QLimit == network.LimitMax:
			q = qmax
		default:
			continue
		}
		pos := 0.0
		if qmax > qmin {
			pos = (q - qmin) / (qmax - qmin)
		}
		for _, gi := range group.Generators {
			if g := net.Generators[gi]; g.Bus == b {
				g.Q = g.MinQ + pos*(g.MaxQ-g.MinQ)
			}
		}
	}
}
