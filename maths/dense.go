package maths

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// 稠密分解条件数上限
const maxCondition = 1e14

// luDense 基于 gonum 的稠密LU分解，用作小规模系统和交叉验证
type luDense struct {
	baseLU
	a  *mat.Dense
	lu mat.LU
}

// NewLU 创建稠密矩阵LU分解器（输入矩阵维度n）
// 参数:
//
//	n - 矩阵维度（必须为正整数）
//
// 返回:
//
//	LU接口实例，错误信息
func NewLU(n int) (LU, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: lu dimension must be positive, got %d", ErrDimension, n)
	}
	return &luDense{baseLU: newBaseLU(n), a: mat.NewDense(n, n, nil)}, nil
}

// Decompose 拷贝为稠密矩阵后分解，并以条件数判定奇异
// 参数:
//
//	matrix - 输入矩阵A（必须为方阵）
//
// 返回:
//
//	错误信息（条件数超过 maxCondition 时返回 ErrSingular）
func (d *luDense) Decompose(matrix Matrix) error {
	if err := d.checkInput(matrix); err != nil {
		return err
	}
	d.a.Zero()
	for i := 0; i < d.n; i++ {
		cols, vals := matrix.GetRow(i)
		for idx, c := range cols {
			d.a.Set(i, c, vals[idx])
		}
	}
	d.lu.Factorize(d.a)
	if cond := d.lu.Cond(); math.IsInf(cond, 1) || math.IsNaN(cond) || cond > maxCondition {
		return fmt.Errorf("%w: condition number %.3g", ErrSingular, cond)
	}
	return nil
}

// SolveReuse 求解Ax=b
// 参数:
//
//	b - 右侧向量
//	x - 解向量（输出）
//
// 返回:
//
//	错误信息
func (d *luDense) SolveReuse(b, x Vector) error {
	if b.Length() != d.n || x.Length() != d.n {
		return fmt.Errorf("%w: lu dense solve vector length", ErrDimension)
	}
	var xv mat.VecDense
	if err := d.lu.SolveVecTo(&xv, false, mat.NewVecDense(d.n, b.ToDense())); err != nil {
		return fmt.Errorf("%w: %v", ErrSingular, err)
	}
	for i := 0; i < d.n; i++ {
		x.Set(i, xv.AtVec(i))
	}
	return nil
}
