package maths

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMatrix 由稠密数据构建稀疏矩阵
func buildMatrix(dense [][]float64) Matrix {
	m := NewSparseMatrix(len(dense), len(dense[0]))
	for i, row := range dense {
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return m
}

// TestLUSolve 验证稀疏与稠密LU求解结果
func TestLUSolve(t *testing.T) {
	// A = [[2, 3, 1], [1, 2, 3], [3, 1, 2]], b = [9, 6, 8]
	// 预期解 x = [35/18, 29/18, 5/18]
	a := buildMatrix([][]float64{{2, 3, 1}, {1, 2, 3}, {3, 1, 2}})
	b := NewDenseVectorWithData([]float64{9, 6, 8})
	expected := []float64{35.0 / 18.0, 29.0 / 18.0, 5.0 / 18.0}

	factories := map[string]func(int) (LU, error){
		"sparse": NewLUSparse,
		"dense":  NewLU,
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			lu, err := factory(3)
			require.NoError(t, err)
			require.NoError(t, lu.Decompose(a))
			x := NewDenseVector(3)
			require.NoError(t, lu.SolveReuse(b, x))
			assert.InDeltaSlice(t, expected, x.ToDense(), 1e-9)
		})
	}
}

// TestLUSparsePivoting 零对角元需要行交换
func TestLUSparsePivoting(t *testing.T) {
	a := buildMatrix([][]float64{
		{0, 1, 0, 0},
		{1, 0, 0, 2},
		{0, 0, 4, 1},
		{3, 0, 1, 0},
	})
	want := []float64{1, -2, 0.5, 3}
	b := a.MatrixVectorMultiply(NewDenseVectorWithData(want))

	lu, err := NewLUSparse(4)
	require.NoError(t, err)
	require.NoError(t, lu.Decompose(a))
	x := NewDenseVector(4)
	require.NoError(t, lu.SolveReuse(b, x))
	assert.InDeltaSlice(t, want, x.ToDense(), 1e-12)

	// 重复分解同一矩阵结果不变
	require.NoError(t, lu.Decompose(a))
	y := NewDenseVector(4)
	require.NoError(t, lu.SolveReuse(b, y))
	assert.Equal(t, x.ToDense(), y.ToDense())
}

// TestLUSingular 奇异矩阵应返回 ErrSingular
func TestLUSingular(t *testing.T) {
	a := buildMatrix([][]float64{{1, 2, 3}, {2, 4, 6}, {1, 0, 1}})
	for _, factory := range []func(int) (LU, error){NewLUSparse, NewLU} {
		lu, err := factory(3)
		require.NoError(t, err)
		err = lu.Decompose(a)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSingular), "意外的错误类型: %v", err)
	}
}

// TestLUDimension 维度错误
func TestLUDimension(t *testing.T) {
	_, err := NewLUSparse(0)
	assert.ErrorIs(t, err, ErrDimension)
	_, err = NewLU(-1)
	assert.ErrorIs(t, err, ErrDimension)

	lu, err := NewLUSparse(2)
	require.NoError(t, err)
	err = lu.Decompose(NewSparseMatrix(3, 3))
	assert.ErrorIs(t, err, ErrDimension)
	err = lu.Decompose(NewSparseMatrix(2, 3))
	assert.ErrorIs(t, err, ErrDimension)
}
