package newton

import (
	"loadflow/maths"
	"loadflow/types"
)

// Linearization 在当前运行点分解的雅可比，用于灵敏度计算
type Linearization struct {
	lu maths.LU
}

// Linearize 分解系统在当前状态下的雅可比
func Linearize(sys System, kind types.LinearSolver) (*Linearization, error) {
	n := sys.Dim()
	lu, err := newLU(kind, n)
	if err != nil {
		return nil, err
	}
	j := maths.NewSparseMatrix(n, n)
	sys.Jacobian(j)
	if err := lu.Decompose(j); err != nil {
		return nil, err
	}
	return &Linearization{lu: lu}, nil
}

// Dim 维度
func (l *Linearization) Dim() int { return l.lu.Dim() }

// Solve 求解 J·x = b
func (l *Linearization) Solve(b, x maths.Vector) error {
	return l.lu.SolveReuse(b, x)
}
