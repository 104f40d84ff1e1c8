package network

import "sort"

// adjacency 母线邻接表（仅两端连接的支路），元素为支路下标
func (n *Network) adjacency() [][]int {
	adj := make([][]int, len(n.Buses))
	for _, br := range n.Branches {
		if !br.Connected() || br.Bus1 == br.Bus2 {
			continue
		}
		adj[br.Bus1] = append(adj[br.Bus1], br.Num)
		adj[br.Bus2] = append(adj[br.Bus2], br.Num)
	}
	return adj
}

func (br *Branch) opposite(bus int) int {
	if br.Bus1 == bus {
		return br.Bus2
	}
	return br.Bus1
}

// ConnectedComponents 广度优先搜索划分连通分量，并写入 Bus.Component
//
// 分量按母线数降序编号，数量相同时按最小母线下标排序，0 号为主分量。
// 返回每个分量的母线下标（升序）。
func (n *Network) ConnectedComponents() [][]int {
	adj := n.adjacency()
	seen := make([]bool, len(n.Buses))
	var comps [][]int
	for start := range n.Buses {
		if seen[start] {
			continue
		}
		queue := []int{start}
		seen[start] = true
		for qi := 0; qi < len(queue); qi++ {
			u := queue[qi]
			for _, e := range adj[u] {
				v := n.Branches[e].opposite(u)
				if !seen[v] {
					seen[v] = true
					queue = append(queue, v)
				}
			}
		}
		sort.Ints(queue)
		comps = append(comps, queue)
	}
	sort.SliceStable(comps, func(i, j int) bool {
		if len(comps[i]) != len(comps[j]) {
			return len(comps[i]) > len(comps[j])
		}
		return comps[i][0] < comps[j][0]
	})
	for num, comp := range comps {
		for _, b := range comp {
			n.Buses[b].Component = num
		}
	}
	return comps
}

// Bridges 返回断开后会使所在分量解列的支路（桥）
//
// 深度优先搜索记录 low 值，跳过回到父节点的同一条支路，
// 并联支路因此不会被判为桥。
func (n *Network) Bridges() map[int]bool {
	adj := n.adjacency()
	disc := make([]int, len(n.Buses))
	low := make([]int, len(n.Buses))
	for i := range disc {
		disc[i] = -1
	}
	bridges := make(map[int]bool)
	timer := 0
	var visit func(u, parentEdge int)
	visit = func(u, parentEdge int) {
		disc[u], low[u] = timer, timer
		timer++
		for _, e := range adj[u] {
			if e == parentEdge {
				continue
			}
			v := n.Branches[e].opposite(u)
			if disc[v] < 0 {
				visit(v, e)
				low[u] = min(low[u], low[v])
				if low[v] > disc[u] {
					bridges[e] = true
				}
			} else {
				low[u] = min(low[u], disc[v])
			}
		}
	}
	for b := range n.Buses {
		if disc[b] < 0 {
			visit(b, -1)
		}
	}
	return bridges
}

// BranchCount 母线上两端连接的支路数
func (n *Network) BranchCount(bus int) int {
	count := 0
	for _, br := range n.Branches {
		if br.Connected() && (br.Bus1 == bus || br.Bus2 == bus) && br.Bus1 != br.Bus2 {
			count++
		}
	}
	return count
}
