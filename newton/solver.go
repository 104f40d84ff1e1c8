// Package newton 牛顿-拉夫逊求解器
//
// Solver 只依赖 System 接口：激活方程残差、雅可比与状态更新。
// 每次迭代按 残差 -> 收敛判断 -> 雅可比 -> LU 分解 -> 求解 -> 步长缩放 -> 更新
// 进行，迭代次数等于线性求解次数。
package newton

import (
	"fmt"
	"log/slog"
	"math"

	"loadflow/maths"
	"loadflow/types"
)

// System 非线性方程组 f(x) = 0
type System interface {
	Dim() int
	State(x maths.Vector)
	Residuals(f maths.Vector)
	Jacobian(j maths.Matrix)
	Converged(f maths.Vector) bool
	Apply(dx maths.Vector)
}

// Limiter 可选接口：返回单步缩放系数(0,1]
type Limiter interface {
	StepScale(dx maths.Vector) float64
}

// Observer 迭代观察者，收到的切片为副本
type Observer interface {
	Iteration(iteration int, x, f []float64)
	Done(status types.Status, iterations int)
}

// Result 求解结果
type Result struct {
	Status     types.Status
	Iterations int
	Mismatch   float64 // 最终最大残差
}

// Solver 牛顿求解器
type Solver struct {
	MaxIterations int
	Scaling       types.StateVectorScalingMode
	LinearSolver  types.LinearSolver
	Logger        *slog.Logger
	Observers     []Observer

	// 阻尼牛顿参数
	DampingFactor    float64 // 阻尼因子
	MinDampingFactor float64 // 最小阻尼因子
	MaxDampingFactor float64 // 最大阻尼因子
}

// NewSolver 按参数创建求解器
func NewSolver(params *types.Parameters, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		MaxIterations:    params.MaxNewtonRaphsonIterations,
		Scaling:          params.StateVectorScalingMode,
		LinearSolver:     params.LinearSolver,
		Logger:           logger,
		MinDampingFactor: types.MinDampingFactor,
		MaxDampingFactor: types.MaxDampingFactor,
	}
}

// newLU 按配置创建分解器
func newLU(kind types.LinearSolver, n int) (maths.LU, error) {
	if kind == types.DenseLUSolver {
		return maths.NewLU(n)
	}
	return maths.NewLUSparse(n)
}

// Solve 从系统当前状态开始迭代
func (sv *Solver) Solve(sys System) Result {
	n := sys.Dim()
	x := maths.NewDenseVector(n)
	f := maths.NewDenseVector(n)
	res := Result{Status: types.StatusRunning}
	done := func(status types.Status) Result {
		res.Status = status
		res.Mismatch = f.MaxAbs()
		for _, o := range sv.Observers {
			o.Done(status, res.Iterations)
		}
		sv.Logger.Debug("newton done", "status", status, "iterations", res.Iterations, "mismatch", res.Mismatch)
		return res
	}
	if n == 0 {
		return done(types.StatusConverged)
	}
	lu, err := newLU(sv.LinearSolver, n)
	if err != nil {
		sv.Logger.Error("newton linear solver", "err", err)
		return done(types.StatusSolverFailed)
	}
	j := maths.NewSparseMatrix(n, n)
	dx := maths.NewDenseVector(n)
	sv.DampingFactor = sv.MaxDampingFactor
	if sv.DampingFactor == 0 {
		sv.DampingFactor = 1
	}
	prevNorm := math.Inf(1)

	for {
		sys.Residuals(f)
		if len(sv.Observers) > 0 {
			sys.State(x)
			for _, o := range sv.Observers {
				o.Iteration(res.Iterations, x.ToDense(), f.ToDense())
			}
		}
		norm := f.Norm2()
		sv.Logger.Debug("newton iteration", "iteration", res.Iterations, "norm", norm, "max", f.MaxAbs())
		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			return done(types.StatusSolverFailed)
		}
		if sys.Converged(f) {
			return done(types.StatusConverged)
		}
		if res.Iterations >= sv.MaxIterations {
			return done(types.StatusMaxIterationReached)
		}
		sys.Jacobian(j)
		if err := lu.Decompose(j); err != nil {
			sv.Logger.Warn("jacobian factorization failed", "iteration", res.Iterations, "err", err)
			return done(types.StatusSolverFailed)
		}
		// J·dx = -f
		f.Scale(-1)
		if err := lu.SolveReuse(f, dx); err != nil {
			sv.Logger.Warn("jacobian solve failed", "iteration", res.Iterations, "err", err)
			return done(types.StatusSolverFailed)
		}
		f.Scale(-1)
		if s := sv.stepScale(sys, dx, norm, prevNorm); s != 1 {
			dx.Scale(s)
		}
		prevNorm = norm
		sys.Apply(dx)
		res.Iterations++
	}
}

// stepScale 步长缩放
func (sv *Solver) stepScale(sys System, dx maths.Vector, norm, prevNorm float64) float64 {
	switch sv.Scaling {
	case types.ScalingMaxVoltageChange:
		if l, ok := sys.(Limiter); ok {
			return l.StepScale(dx)
		}
	case types.ScalingDamped:
		if !math.IsInf(prevNorm, 1) {
			// 阻尼自适应调整
			ratio := norm / prevNorm
			switch {
			case ratio > 10:
				sv.DampingFactor = math.Max(sv.MinDampingFactor, sv.DampingFactor*0.1)
			case ratio > 2:
				sv.DampingFactor = math.Max(sv.MinDampingFactor, sv.DampingFactor*0.5)
			case ratio > 1.5:
				sv.DampingFactor = math.Max(sv.MinDampingFactor, sv.DampingFactor*0.8)
			case ratio > 1:
				sv.DampingFactor = math.Max(sv.MinDampingFactor, sv.DampingFactor*0.9)
			case ratio < 0.5:
				sv.DampingFactor = math.Min(sv.MaxDampingFactor, sv.DampingFactor*1.2)
			default:
				sv.DampingFactor = math.Min(sv.MaxDampingFactor, sv.DampingFactor*1.1)
			}
		}
		scale := sv.DampingFactor
		if l, ok := sys.(Limiter); ok {
			scale = math.Min(scale, l.StepScale(dx))
		}
		return scale
	}
	return 1
}

// String 求解器配置
func (sv *Solver) String() string {
	return fmt.Sprintf("newton(max=%d, scaling=%s, solver=%s)", sv.MaxIterations, sv.Scaling, sv.LinearSolver)
}
