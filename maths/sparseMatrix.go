package maths

import (
	"fmt"
	"sort"
	"strings"
)

// sparseMatrix 稀疏矩阵数据结构
// 使用CSR (Compressed Sparse Row) 格式存储
type sparseMatrix struct {
	rows, cols int
	rowPtr     []int     // 行指针数组
	colInd     []int     // 列索引数组
	values     []float64 // 非零元素值
}

// NewSparseMatrix 创建新的稀疏矩阵
func NewSparseMatrix(rows, cols int) Matrix {
	return &sparseMatrix{
		rows:   rows,
		cols:   cols,
		rowPtr: make([]int, rows+1), // 多一个元素用于存储结束位置
	}
}

// find 二分查找列索引，返回位置与是否存在
func (m *sparseMatrix) find(row, col int) (int, bool) {
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		panic(fmt.Sprintf("index (%d,%d) out of range %dx%d", row, col, m.rows, m.cols))
	}
	start, end := m.rowPtr[row], m.rowPtr[row+1]
	pos := sort.Search(end-start, func(i int) bool {
		return m.colInd[start+i] >= col
	}) + start
	return pos, pos < end && m.colInd[pos] == col
}

// Set 设置矩阵元素，零值删除元素
func (m *sparseMatrix) Set(row, col int, value float64) {
	pos, ok := m.find(row, col)
	switch {
	case ok && value == 0:
		m.deleteElement(row, pos)
	case ok:
		m.values[pos] = value
	case value != 0:
		m.insertElement(row, col, value, pos)
	}
}

// Increment 增量设置矩阵元素，已有结构保留（即使累加为零）
func (m *sparseMatrix) Increment(row, col int, value float64) {
	pos, ok := m.find(row, col)
	if ok {
		m.values[pos] += value
		return
	}
	m.insertElement(row, col, value, pos)
}

// Get 获取矩阵元素
func (m *sparseMatrix) Get(row, col int) float64 {
	if pos, ok := m.find(row, col); ok {
		return m.values[pos]
	}
	return 0
}

// deleteElement 删除指定位置的元素
func (m *sparseMatrix) deleteElement(row, pos int) {
	m.colInd = append(m.colInd[:pos], m.colInd[pos+1:]...)
	m.values = append(m.values[:pos], m.values[pos+1:]...)
	for i := row + 1; i <= m.rows; i++ {
		m.rowPtr[i]--
	}
}

// insertElement 在指定位置插入元素
func (m *sparseMatrix) insertElement(row, col int, value float64, pos int) {
	m.colInd = append(m.colInd, 0)
	copy(m.colInd[pos+1:], m.colInd[pos:])
	m.colInd[pos] = col
	m.values = append(m.values, 0)
	copy(m.values[pos+1:], m.values[pos:])
	m.values[pos] = value
	for i := row + 1; i <= m.rows; i++ {
		m.rowPtr[i]++
	}
}

func (m *sparseMatrix) Rows() int      { return m.rows }
func (m *sparseMatrix) Cols() int      { return m.cols }
func (m *sparseMatrix) IsSquare() bool { return m.rows == m.cols }

// NonZeroCount 返回存储元素数量
func (m *sparseMatrix) NonZeroCount() int { return len(m.values) }

// Zero 数值清零，保留稀疏结构用于下次装配
func (m *sparseMatrix) Zero() { clear(m.values) }

// GetRow 获取指定行的存储元素（返回底层切片，调用方只读）
func (m *sparseMatrix) GetRow(row int) ([]int, []float64) {
	if row < 0 || row >= m.rows {
		panic("row index out of range")
	}
	start, end := m.rowPtr[row], m.rowPtr[row+1]
	return m.colInd[start:end], m.values[start:end]
}

// MatrixVectorMultiply 矩阵向量乘法
func (m *sparseMatrix) MatrixVectorMultiply(x Vector) Vector {
	if x.Length() != m.cols {
		panic("vector dimension mismatch")
	}
	result := NewDenseVector(m.rows)
	for i := 0; i < m.rows; i++ {
		for j := m.rowPtr[i]; j < m.rowPtr[i+1]; j++ {
			result.Increment(i, m.values[j]*x.Get(m.colInd[j]))
		}
	}
	return result
}

// String 字符串表示
func (m *sparseMatrix) String() string {
	var sb strings.Builder
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			fmt.Fprintf(&sb, "%10.4f ", m.Get(i, j))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
