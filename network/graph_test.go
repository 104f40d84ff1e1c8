package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain 构造 B0-B1-...-B(n-1) 链状网络
func buildChain(t *testing.T, n int) *Network {
	t.Helper()
	net := New(100)
	for i := 0; i < n; i++ {
		_, err := net.AddBus(busName(i), 220)
		require.NoError(t, err)
	}
	for i := 0; i+1 < n; i++ {
		_, err := net.AddLine(LineSpec{ID: "L" + busName(i), Bus1: busName(i), Bus2: busName(i + 1), X: 10})
		require.NoError(t, err)
	}
	return net
}

func busName(i int) string { return string(rune('A' + i)) }

func TestConnectedComponents(t *testing.T) {
	net := buildChain(t, 5)
	comps := net.ConnectedComponents()
	require.Len(t, comps, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, comps[0])

	// 断开 C-D 支路的一端后分成 {A,B,C} 与 {D,E}
	net.Branch("LC").Connected2 = false
	comps = net.ConnectedComponents()
	require.Len(t, comps, 2)
	assert.Equal(t, []int{0, 1, 2}, comps[0])
	assert.Equal(t, []int{3, 4}, comps[1])
	assert.Equal(t, 0, net.Bus("A").Component)
	assert.Equal(t, 1, net.Bus("E").Component)

	// 一端断开的支路归属连接端所在分量
	assert.Equal(t, 0, net.BranchComponent(net.Branch("LC")))
	net.Branch("LC").Connected1 = false
	assert.Equal(t, -1, net.BranchComponent(net.Branch("LC")))
}

func TestBridges(t *testing.T) {
	net := buildChain(t, 4)
	bridges := net.Bridges()
	assert.Len(t, bridges, 3, "链状网络的每条支路都是桥")

	// 并联一回 A-B 后 A-B 两条支路都不是桥
	_, err := net.AddLine(LineSpec{ID: "LA2", Bus1: "A", Bus2: "B", X: 10})
	require.NoError(t, err)
	bridges = net.Bridges()
	assert.False(t, bridges[net.Branch("LA").Num])
	assert.False(t, bridges[net.Branch("LA2").Num])
	assert.True(t, bridges[net.Branch("LB").Num])

	// 成环后没有桥
	_, err = net.AddLine(LineSpec{ID: "LD", Bus1: "D", Bus2: "A", X: 10})
	require.NoError(t, err)
	assert.Empty(t, net.Bridges())
}

func TestPhaseShifterIsNotBridge(t *testing.T) {
	net := NewPhaseShifterCase()
	assert.False(t, net.Bridges()[net.Branch("PS1").Num])
	assert.Equal(t, 2, net.BranchCount(net.Bus("B1").Num))
}
