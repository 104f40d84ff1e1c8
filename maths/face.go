package maths

import "errors"

// 浮点精度阈值
const Epsilon = 1e-16

// 错误定义
var (
	ErrSingular  = errors.New("maths: matrix is singular or nearly singular")
	ErrDimension = errors.New("maths: dimension mismatch")
)

// Vector 向量接口定义
type Vector interface {
	Length() int    // 获取向量长度
	String() string // 格式化字符串输出

	Get(index int) float64              // 获取指定索引元素值
	Set(index int, value float64)       // 设置指定索引元素值
	Increment(index int, value float64) // 增量更新元素（value累加）

	ToDense() []float64             // 转换为稠密切片（副本）
	BuildFromDense(dense []float64) // 从稠密切片构建向量

	Zero()            // 清空向量为零向量
	Copy(a Vector)    // 复制自身数据到目标向量a
	Scale(s float64)  // 向量缩放
	MaxAbs() float64  // 绝对值最大元素
	Norm2() float64   // 二范数
}

// Matrix 矩阵接口定义
type Matrix interface {
	Rows() int      // 获取矩阵行数
	Cols() int      // 获取矩阵列数
	String() string // 格式化字符串输出
	IsSquare() bool // 判断是否为方阵

	Get(row, col int) float64              // 获取指定行列元素值
	Set(row, col int, value float64)       // 设置指定行列元素值
	Increment(row, col int, value float64) // 增量更新元素
	GetRow(row int) ([]int, []float64)     // 获取指定行非零元素（列索引+值）

	Zero()             // 清零数值（保留稀疏结构）
	NonZeroCount() int // 统计非零元素数量

	MatrixVectorMultiply(x Vector) Vector // 矩阵向量乘法（返回A*x）
}

// LU 接口定义了 LU 分解和求解线性方程组的操作。
type LU interface {
	Decompose(matrix Matrix) error   // 对输入方阵执行LU分解（PA=LU）
	SolveReuse(b, x Vector) error    // 重用分解结果求解Ax=b
	Dim() int                        // 分解维度
}
