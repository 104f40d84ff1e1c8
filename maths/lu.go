package maths

import (
	"fmt"
	"math"
	"sort"
)

// 相对主元阈值：主元小于 矩阵最大元素*pivotTolerance 视为奇异
const pivotTolerance = 1e-12

// NewLUSparse 创建稀疏矩阵LU分解器（输入矩阵维度n）
// 参数:
//
//	n - 矩阵维度（必须为正整数）
//
// 返回:
//
//	LU接口实例，错误信息
func NewLUSparse(n int) (LU, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: lu sparse dimension must be positive, got %d", ErrDimension, n)
	}
	return &luSparse{
		baseLU: newBaseLU(n),
		work:   make([]map[int]float64, n),
		lower:  make([]map[int]float64, n),
		y:      make([]float64, n),
	}, nil
}

// baseLU 公共LU分解结构体
// 实现PA = LU分解，其中：
//
//	P - 置换矩阵（用向量表示）
//	L - 单位下三角矩阵（对角线为1）
//	U - 上三角矩阵
type baseLU struct {
	n        int   // 矩阵维度（方阵n×n）
	P        []int // 置换向量：P[i] = 分解后第i行对应的原始矩阵行索引
	pinverse []int // 逆置换向量：pinverse[i] = 原始第i行对应的分解后行索引
}

func newBaseLU(n int) baseLU {
	return baseLU{n: n, P: make([]int, n), pinverse: make([]int, n)}
}

// Dim 获取矩阵维度
// 返回:
//
//	矩阵维度n
func (lu *baseLU) Dim() int {
	return lu.n
}

// resetPermutation 初始化为单位置换
func (lu *baseLU) resetPermutation() {
	for i := 0; i < lu.n; i++ {
		lu.P[i] = i
		lu.pinverse[i] = i
	}
}

// updatePermutation 更新置换向量（交换并同步更新逆置换）
// 参数:
//
//	k, maxRow - 要交换的分解后行索引
func (lu *baseLU) updatePermutation(k, maxRow int) {
	lu.P[k], lu.P[maxRow] = lu.P[maxRow], lu.P[k]
	lu.pinverse[lu.P[k]] = k
	lu.pinverse[lu.P[maxRow]] = maxRow
}

// checkInput 输入合法性校验
// 参数:
//
//	matrix - 待分解矩阵
//
// 返回:
//
//	非方阵或维度不符时返回 ErrDimension
func (lu *baseLU) checkInput(matrix Matrix) error {
	if !matrix.IsSquare() {
		return fmt.Errorf("%w: input must be square, got %dx%d", ErrDimension, matrix.Rows(), matrix.Cols())
	}
	if matrix.Rows() != lu.n {
		return fmt.Errorf("%w: matrix %d, factorizer %d", ErrDimension, matrix.Rows(), lu.n)
	}
	return nil
}

// luSparse 稀疏矩阵LU分解实现（PA=LU，带部分主元）
// 消元在按行的哈希表上进行，完成后压缩为CSR供回代使用
type luSparse struct {
	baseLU
	work  []map[int]float64 // 消元工作行（最终为U）
	lower []map[int]float64 // 消元因子（L严格下三角）
	L, U  *sparseMatrix
	y     []float64 // 前向替换中间量 Ly=Pb
}

// Decompose 执行稀疏矩阵LU分解
// 参数:
//
//	matrix - 输入矩阵A（必须为方阵）
//
// 返回:
//
//	错误信息（维度不符返回 ErrDimension，奇异返回 ErrSingular）
//
// 算法步骤:
//  1. 拷贝A的非零元素到工作行
//  2. 对每一列k: 在[k, n-1]行中选取绝对值最大的主元，交换行，
//     对主元列非零的下方行做消元（只遍历主元行的非零列）
//  3. 主元小于相对阈值时返回 ErrSingular
func (lu *luSparse) Decompose(matrix Matrix) error {
	if err := lu.checkInput(matrix); err != nil {
		return err
	}
	scale := 0.0
	for i := 0; i < lu.n; i++ {
		row := make(map[int]float64)
		cols, vals := matrix.GetRow(i)
		for idx, c := range cols {
			if vals[idx] != 0 {
				row[c] = vals[idx]
				scale = math.Max(scale, math.Abs(vals[idx]))
			}
		}
		lu.work[i] = row
		lu.lower[i] = make(map[int]float64)
	}
	lu.resetPermutation()
	if scale == 0 {
		return fmt.Errorf("%w: zero matrix", ErrSingular)
	}
	tol := scale * pivotTolerance

	for k := 0; k < lu.n; k++ {
		// 部分主元选择
		maxRow, maxAbs := k, math.Abs(lu.work[k][k])
		for i := k + 1; i < lu.n; i++ {
			if v := math.Abs(lu.work[i][k]); v > maxAbs {
				maxAbs, maxRow = v, i
			}
		}
		if maxAbs <= tol {
			return fmt.Errorf("%w: pivot %d (|%.3e| <= %.3e)", ErrSingular, k, maxAbs, tol)
		}
		if maxRow != k {
			lu.work[k], lu.work[maxRow] = lu.work[maxRow], lu.work[k]
			lu.lower[k], lu.lower[maxRow] = lu.lower[maxRow], lu.lower[k]
			lu.updatePermutation(k, maxRow)
		}

		pivotRow := lu.work[k]
		pivot := pivotRow[k]
		for i := k + 1; i < lu.n; i++ {
			v, ok := lu.work[i][k]
			if !ok {
				continue
			}
			delete(lu.work[i], k)
			if v == 0 {
				continue
			}
			factor := v / pivot
			lu.lower[i][k] = factor
			for j, pv := range pivotRow {
				if j <= k {
					continue
				}
				nv := lu.work[i][j] - factor*pv
				if math.Abs(nv) < Epsilon {
					delete(lu.work[i], j)
				} else {
					lu.work[i][j] = nv
				}
			}
		}
	}
	lu.L = compressRows(lu.lower, lu.n)
	lu.U = compressRows(lu.work, lu.n)
	return nil
}

// compressRows 将按行的哈希表压缩为CSR
func compressRows(rows []map[int]float64, n int) *sparseMatrix {
	m := &sparseMatrix{rows: n, cols: n, rowPtr: make([]int, n+1)}
	for i, row := range rows {
		cols := make([]int, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		sort.Ints(cols)
		for _, c := range cols {
			m.colInd = append(m.colInd, c)
			m.values = append(m.values, row[c])
		}
		m.rowPtr[i+1] = len(m.colInd)
	}
	return m
}

// SolveReuse 利用分解结果求解Ax=b
// 参数:
//
//	b - 右侧向量
//	x - 解向量（输出）
//
// 返回:
//
//	错误信息
//
// 步骤:
//  1. 前向替换：求解Ly = Pb
//  2. 后向替换：求解Ux = y
func (lu *luSparse) SolveReuse(b, x Vector) error {
	if b.Length() != lu.n || x.Length() != lu.n {
		return fmt.Errorf("%w: lu sparse solve vector length", ErrDimension)
	}
	if lu.U == nil {
		return fmt.Errorf("%w: matrix not decomposed", ErrSingular)
	}
	for i := 0; i < lu.n; i++ {
		sum := b.Get(lu.P[i])
		cols, vals := lu.L.GetRow(i)
		for idx, j := range cols {
			sum -= vals[idx] * lu.y[j]
		}
		lu.y[i] = sum
	}
	for i := lu.n - 1; i >= 0; i-- {
		sum := lu.y[i]
		diag := 0.0
		cols, vals := lu.U.GetRow(i)
		for idx, j := range cols {
			switch {
			case j == i:
				diag = vals[idx]
			case j > i:
				sum -= vals[idx] * x.Get(j)
			}
		}
		if math.Abs(diag) < Epsilon {
			return fmt.Errorf("%w: U diagonal %d is zero", ErrSingular, i)
		}
		x.Set(i, sum/diag)
	}
	return nil
}
