package outerloop

import (
	"loadflow/newton"
	"loadflow/types"
)

// Controller 外循环控制器
//
// Initialize 在首次牛顿求解前调用，可修改控制投入状态；Check 在每次牛顿收敛后
// 调用，修改网络或控制状态时必须返回 UNSTABLE。
type Controller interface {
	Name() string
	Initialize(c *Context)
	Check(c *Context) (types.OuterLoopStatus, error)
}

// NewControllers 按参数创建控制器，顺序固定
func NewControllers(params *types.Parameters) []Controller {
	var ctrls []Controller
	if params.VoltageControl && params.UseReactiveLimits {
		ctrls = append(ctrls, &ReactiveLimits{})
	}
	if params.TransformerVoltageControl {
		ctrls = append(ctrls, &TransformerVoltage{Mode: params.TransformerVoltageControlMode})
	}
	if params.ShuntVoltageControl {
		ctrls = append(ctrls, &ShuntVoltage{Mode: params.ShuntVoltageControlMode})
	}
	if params.TransformerReactivePowerControl {
		ctrls = append(ctrls, &TransformerReactivePower{
			Incremental: params.TransformerVoltageControlMode == types.TransformerIncrementalVoltageControl,
		})
	}
	if params.PhaseShifterRegulation {
		ctrls = append(ctrls, &PhaseControl{Mode: params.PhaseShifterControlMode})
	}
	switch {
	case params.AreaInterchangeControl:
		ctrls = append(ctrls, &AreaInterchange{})
	case params.DistributedSlack:
		ctrls = append(ctrls, &DistributedSlack{})
	}
	return ctrls
}

// Result 外循环结果
type Result struct {
	Status           types.Status
	NewtonIterations int // 累计牛顿迭代次数
	OuterIterations  int
}

// Runner 外循环调度
type Runner struct {
	Solver        *newton.Solver
	Controllers   []Controller
	MaxIterations int
}

// NewRunner 按参数创建调度器
func NewRunner(params *types.Parameters, solver *newton.Solver) *Runner {
	return &Runner{
		Solver:        solver,
		Controllers:   NewControllers(params),
		MaxIterations: params.MaxOuterLoopIterations,
	}
}

// Run 求解并执行外循环，只有 THROW 策略的分配失败返回错误
func (r *Runner) Run(c *Context) (Result, error) {
	var res Result
	for _, ctrl := range r.Controllers {
		ctrl.Initialize(c)
	}
	solve := func() bool {
		if err := c.System.Update(); err != nil {
			c.Logger.Error("equation system update", "err", err)
			res.Status = types.StatusSolverFailed
			return false
		}
		c.Newton = r.Solver.Solve(c.System)
		c.invalidate()
		res.NewtonIterations += c.Newton.Iterations
		res.Status = c.Newton.Status
		return res.Status == types.StatusConverged
	}
	if !solve() {
		return res, nil
	}

	for {
		unstable := ""
		for _, ctrl := range r.Controllers {
			status, err := ctrl.Check(c)
			if err != nil {
				res.Status = types.StatusSolverFailed
				return res, err
			}
			if status == types.OuterLoopFailed {
				c.Logger.Warn("outer loop failed", "controller", ctrl.Name(), "outer", res.OuterIterations)
				res.Status = types.StatusSolverFailed
				return res, nil
			}
			if status == types.OuterLoopUnstable {
				unstable = ctrl.Name()
				break
			}
		}
		if unstable == "" {
			return res, nil
		}
		if res.OuterIterations >= r.MaxIterations {
			c.Logger.Warn("outer loop iteration limit reached", "limit", r.MaxIterations, "controller", unstable)
			res.Status = types.StatusMaxIterationReached
			return res, nil
		}
		res.OuterIterations++
		c.Iteration = res.OuterIterations
		c.Logger.Debug("outer loop unstable", "controller", unstable, "outer", res.OuterIterations)
		if !solve() {
			return res, nil
		}
	}
}
