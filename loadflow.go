// Package loadflow 交流潮流计算
//
// Run 按连通分量划分网络，为每个分量选择平衡节点并构建方程组，然后并行执行
// 牛顿迭代与外循环控制。电压、潮流、档位与发电出力直接写回网络。
package loadflow

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"loadflow/equation"
	"loadflow/network"
	"loadflow/newton"
	"loadflow/outerloop"
	"loadflow/types"
)

type options struct {
	logger    *slog.Logger
	observers []func(component int) newton.Observer
}

// Option 计算选项
type Option func(*options)

// WithLogger 指定日志
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver 为每个分量的牛顿求解器创建观察者，返回 nil 表示不观察该分量
//
// 分量并行求解，观察者不在分量间共享。
func WithObserver(f func(component int) newton.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, f) }
}

// job 待求解的分量
type job struct {
	result *ComponentResult
	system *equation.System
}

// Run 执行潮流计算
//
// 参数非法或方程组构建时发现控制目标矛盾（*equation.ConsistencyError）时在
// 迭代前返回错误，电网恢复到调用前的状态；THROW 策略下不平衡功率分配失败
// 返回 types.ErrSlackDistribution，此时结果仍然有效。其余失败只体现在分量状态中。
func Run(net *network.Network, params *types.Parameters, opts ...Option) (*Result, error) {
	if params == nil {
		params = types.DefaultParameters()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	res := &Result{RunID: uuid.New()}
	logger := o.logger.With("run_id", res.RunID.String())

	snap := net.Snapshot()
	comps := net.ConnectedComponents()
	net.ResetTaps()
	for _, b := range net.Buses {
		b.Slack = false
	}
	logger.Debug("network components", "buses", len(net.Buses), "branches", len(net.Branches), "components", len(comps))

	// 方程组全部构建成功后才开始迭代
	var jobs []job
	for num, buses := range comps {
		cr := &ComponentResult{Num: num, Status: types.StatusNoCalculation, SlackBusMismatch: math.NaN()}
		res.Components = append(res.Components, cr)
		if num > 0 && params.ConnectedComponentMode == types.ComponentMain {
			continue
		}
		if !hasVoltageSource(net, buses) {
			logger.Info("component without voltage regulating generator not calculated", "component", num, "buses", len(buses))
			continue
		}
		slack := selectSlack(net, buses, params)
		if slack < 0 {
			cr.Disabled = append(cr.Disabled, "slack bus selection: no named bus in component, most meshed bus used")
			logger.Warn("no named slack bus in component", "component", num, "ids", params.SlackBusIDs)
			slack = mostMeshed(net, buses)
		}
		net.Buses[slack].Slack = true
		cr.SlackBusID = net.Buses[slack].ID
		s, err := equation.Build(net, num, params, logger)
		if err != nil {
			net.Restore(snap)
			return nil, fmt.Errorf("loadflow: component %d: %w", num, err)
		}
		jobs = append(jobs, job{result: cr, system: s})
	}

	var g errgroup.Group
	limit := params.Parallelism
	if limit == 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for _, j := range jobs {
		g.Go(func() error { return solveComponent(j.system, j.result, params, &o) })
	}
	err := g.Wait()

	for _, cr := range res.Components {
		if cr.Status == types.StatusNoCalculation {
			clearComponent(net, cr.Num)
		}
		cr.Positions = positions(net, cr.Num)
	}
	net.ClearFlows(-1)
	mergeAreas(net, res)
	if params.UseInitialTapPosition {
		for _, j := range jobs {
			net.SeedTaps(j.result.Num)
		}
	}
	return res, err
}

// solveComponent 求解单个分量，只修改分量内的母线、支路与注入
func solveComponent(s *equation.System, cr *ComponentResult, params *types.Parameters, o *options) error {
	net, logger := s.Network, s.Logger()
	if err := newton.NewInitializer(params.VoltageInitMode).Initialize(s); err != nil {
		logger.Warn("voltage initialization failed, falling back to uniform values", "mode", params.VoltageInitMode, "err", err)
		newton.UniformInitializer{}.Initialize(s)
	}
	solver := newton.NewSolver(params, logger)
	for _, f := range o.observers {
		if obs := f(cr.Num); obs != nil {
			solver.Observers = append(solver.Observers, obs)
		}
	}
	c := outerloop.NewContext(s)
	out, err := outerloop.NewRunner(params, solver).Run(c)

	cr.Status = out.Status
	cr.NewtonIterations = out.NewtonIterations
	cr.OuterIterations = out.OuterIterations
	cr.Disabled = append(cr.Disabled, s.Disabled...)
	cr.SlackBusMismatch = net.MW(s.SlackMismatch())
	cr.DistributedP = net.MW(c.DistributedP)
	s.ComputeGeneration()
	net.ComputeFlows(cr.Num)
	cr.Areas = areaResults(net, cr.Num)

	logger.Info("component solved",
		"status", cr.Status, "newton", cr.NewtonIterations, "outer", cr.OuterIterations,
		"slack", cr.SlackBusID, "slack_mismatch", cr.SlackBusMismatch)
	if err != nil {
		return fmt.Errorf("loadflow: component %d: %w", cr.Num, err)
	}
	return nil
}

// hasVoltageSource 分量内存在调压发电机
func hasVoltageSource(net *network.Network, buses []int) bool {
	for _, g := range net.Generators {
		if g.Connected && g.VoltageRegulatorOn && net.Buses[g.Bus].Component == net.Buses[buses[0]].Component {
			return true
		}
	}
	return false
}

// selectSlack 按参数选择平衡节点，NAME 方式找不到时返回 -1
func selectSlack(net *network.Network, buses []int, params *types.Parameters) int {
	comp := net.Buses[buses[0]].Component
	switch params.SlackBusSelectionMode {
	case types.SlackBusFirst:
		return buses[0]
	case types.SlackBusName:
		for _, id := range params.SlackBusIDs {
			if b := net.Bus(id); b != nil && b.Component == comp {
				return b.Num
			}
		}
		return -1
	case types.SlackBusLargestGenerator:
		best := -1
		maxP := math.Inf(-1)
		for _, g := range net.Generators {
			if g.Connected && net.Buses[g.Bus].Component == comp && g.MaxP > maxP {
				best, maxP = g.Bus, g.MaxP
			}
		}
		if best >= 0 {
			return best
		}
	}
	return mostMeshed(net, buses)
}

// mostMeshed 支路最多的母线，相同时取额定电压高者
func mostMeshed(net *network.Network, buses []int) int {
	best, count := buses[0], -1
	for _, b := range buses {
		c := net.BranchCount(b)
		if c > count || (c == count && net.Buses[b].NominalV > net.Buses[best].NominalV) {
			best, count = b, c
		}
	}
	return best
}

// clearComponent 未计算分量的电压与潮流置为 NaN
func clearComponent(net *network.Network, comp int) {
	nan := math.NaN()
	for _, b := range net.Buses {
		if b.Component == comp {
			b.V, b.Angle = nan, nan
		}
	}
	net.ClearFlows(comp)
}

// positions 分量内离散设备档位
func positions(net *network.Network, comp int) []Position {
	var out []Position
	for _, br := range net.Branches {
		if net.BranchComponent(br) != comp {
			continue
		}
		if t := br.RatioTap; t != nil {
			out = append(out, Position{Device: br.ID, Kind: RatioTapPosition, Requested: t.InitialPosition, Solved: t.Position})
		}
		if t := br.PhaseTap; t != nil {
			out = append(out, Position{Device: br.ID, Kind: PhaseTapPosition, Requested: t.InitialPosition, Solved: t.Position})
		}
	}
	for _, sh := range net.Shunts {
		if sh.Connected && sh.MaxSectionCount > 0 && net.Buses[sh.Bus].Component == comp {
			out = append(out, Position{Device: sh.ID, Kind: ShuntSection, Requested: sh.InitialSectionCount, Solved: sh.SectionCount})
		}
	}
	return out
}

// areaResults 分量内区域的交换功率，边界端口不全在分量内的区域记为排除
func areaResults(net *network.Network, comp int) []AreaResult {
	var out []AreaResult
	for _, a := range net.Areas {
		inside := false
		for _, b := range a.Buses {
			if net.Buses[b].Component == comp {
				inside = true
				break
			}
		}
		if !inside {
			continue
		}
		ar := AreaResult{ID: a.ID, Target: net.MW(a.Target)}
		for _, bd := range a.Boundaries {
			br := net.Branches[bd.Branch]
			if !br.ConnectedAt(bd.Side) || net.Buses[br.BusAt(bd.Side)].Component != comp {
				ar.Excluded = true
				break
			}
			if bd.Side == network.Side1 {
				ar.Interchange += br.P1
			} else {
				ar.Interchange += br.P2
			}
		}
		if ar.Excluded {
			ar.Interchange = math.NaN()
		}
		out = append(out, ar)
	}
	return out
}

// mergeAreas 汇总各分量的区域结果写回网络
func mergeAreas(net *network.Network, res *Result) {
	for _, a := range net.Areas {
		a.Interchange, a.Excluded = math.NaN(), false
	}
	for _, cr := range res.Components {
		for _, ar := range cr.Areas {
			a := net.Area(ar.ID)
			switch {
			case a == nil:
			case ar.Excluded:
				a.Excluded = true
				a.Interchange = math.NaN()
			case !a.Excluded:
				a.Interchange = net.Power(ar.Interchange)
			}
		}
	}
}
