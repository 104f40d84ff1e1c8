package maths

import (
	"fmt"
	"math"
	"strings"
)

// denseVector 稠密向量实现
type denseVector struct {
	data []float64
}

// NewDenseVector 创建新的稠密向量
func NewDenseVector(length int) Vector {
	return &denseVector{data: make([]float64, length)}
}

// NewDenseVectorWithData 从现有数据创建稠密向量（不复制）
func NewDenseVectorWithData(data []float64) Vector {
	return &denseVector{data: data}
}

func (v *denseVector) Length() int               { return len(v.data) }
func (v *denseVector) Get(index int) float64     { return v.data[index] }
func (v *denseVector) Set(index int, x float64)  { v.data[index] = x }
func (v *denseVector) Increment(i int, x float64) { v.data[i] += x }

// ToDense 返回数据副本
func (v *denseVector) ToDense() []float64 {
	out := make([]float64, len(v.data))
	copy(out, v.data)
	return out
}

// BuildFromDense 从稠密向量构建向量
func (v *denseVector) BuildFromDense(dense []float64) {
	if len(dense) != len(v.data) {
		panic("dimension mismatch")
	}
	copy(v.data, dense)
}

// Zero 清零
func (v *denseVector) Zero() { clear(v.data) }

// Copy 将自身值复制到 a 向量
func (v *denseVector) Copy(a Vector) {
	if a.Length() != len(v.data) {
		panic("dimension mismatch")
	}
	if target, ok := a.(*denseVector); ok {
		copy(target.data, v.data)
		return
	}
	for i, x := range v.data {
		a.Set(i, x)
	}
}

// Scale 缩放
func (v *denseVector) Scale(s float64) {
	for i := range v.data {
		v.data[i] *= s
	}
}

// MaxAbs 绝对值最大元素
func (v *denseVector) MaxAbs() float64 {
	m := 0.0
	for _, x := range v.data {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

// Norm2 二范数
func (v *denseVector) Norm2() float64 {
	s := 0.0
	for _, x := range v.data {
		s += x * x
	}
	return math.Sqrt(s)
}

// String 格式化输出
func (v *denseVector) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v.data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%.6g", x)
	}
	sb.WriteByte(']')
	return sb.String()
}
