// Package debug 牛顿迭代过程记录与绘图
//
// Recorder 通过 loadflow.WithObserver 为每个分量挂接 Record，记录状态向量与残差，
// 之后可输出 JSON、HTML 曲线（Charts）或图片（Plot）。
package debug

import (
	"encoding/json"
	"io"
	"math"
	"sort"
	"sync"

	"loadflow/newton"
	"loadflow/types"
)

// Solve 一次牛顿求解
type Solve struct {
	Status     string
	Iterations int
}

// Record 单个分量的迭代记录
type Record struct {
	Component int
	State     [][]float64 // 每次迭代的状态向量
	Mismatch  []float64   // 最大残差
	Norm      []float64   // 残差 2 范数
	Solves    []Solve
}

// Iteration 记录迭代
func (r *Record) Iteration(_ int, x, f []float64) {
	maxAbs, sum := 0.0, 0.0
	for _, v := range f {
		maxAbs = math.Max(maxAbs, math.Abs(v))
		sum += v * v
	}
	r.State = append(r.State, x)
	r.Mismatch = append(r.Mismatch, maxAbs)
	r.Norm = append(r.Norm, math.Sqrt(sum))
}

// Done 记录求解结束
func (r *Record) Done(status types.Status, iterations int) {
	r.Solves = append(r.Solves, Solve{Status: status.String(), Iterations: iterations})
}

// Recorder 按分量创建记录
type Recorder struct {
	mu      sync.Mutex
	records map[int]*Record
}

// Observer 分量 component 的观察者，可直接传给 loadflow.WithObserver
func (r *Recorder) Observer(component int) newton.Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records == nil {
		r.records = make(map[int]*Record)
	}
	rec, ok := r.records[component]
	if !ok {
		rec = &Record{Component: component}
		r.records[component] = rec
	}
	return rec
}

// Records 按分量编号排序的记录
func (r *Recorder) Records() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Component < list[j].Component })
	return list
}

// Render 输出 JSON
func (r *Recorder) Render(w io.Writer) error { return json.NewEncoder(w).Encode(r.Records()) }
