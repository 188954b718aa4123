//go:build linux

package harness

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"github.com/FauxFaux/facto-exporter/pkg/profile"
	"github.com/FauxFaux/facto-exporter/pkg/tracee"
)

// spawnStopped starts a short-lived child and ptrace-attaches to it,
// skipping the test if the sandbox refuses attach.
func spawnStopped(t *testing.T) (*tracee.Tracer, func()) {
	t.Helper()

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	cleanup := func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}

	tr, err := tracee.Attach(pid)
	if err != nil {
		cleanup()
		t.Skipf("ptrace attach unavailable in this sandbox: %v", err)
	}

	return tr, func() {
		_ = unix.PtraceDetach(pid)
		cleanup()
	}
}

func TestBuildFakeSet_HeaderAndRootReadable(t *testing.T) {
	tr, cleanup := spawnStopped(t)
	defer cleanup()

	regs, err := tr.GetRegs()
	require.NoError(t, err)
	scratch := regs.Rip &^ 0x7 // word-align into the executable mapping

	layout := profile.Default().Layout
	units := []Unit{
		{UnitNumber: 0x100, ProductsComplete: 0x1000},
		{UnitNumber: 0x101, ProductsComplete: 0x1001},
		{UnitNumber: 0x102, ProductsComplete: 0x1002},
		{UnitNumber: 0x103, ProductsComplete: 0x1003},
	}

	setAddr, err := BuildFakeSet(tr, scratch, layout, units)
	if err != nil {
		t.Skipf("fake set injection unavailable in this sandbox: %v", err)
	}
	assert.NotZero(t, setAddr)

	sizeWord, err := tr.ReadWord(setAddr + layout.SetSizeOffset)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(units)), sizeWord)

	rootAddr, err := tr.ReadWord(setAddr + rbSetOffBegin)
	require.NoError(t, err)
	require.NotZero(t, rootAddr)

	dataAddr, err := tr.ReadWord(rootAddr + rbOffData)
	require.NoError(t, err)
	require.NotZero(t, dataAddr)

	// for 4 units, place()'s split puts index 2 at the root: idxs[0:2]
	// go left, idxs[2] becomes this node, idxs[3] goes right.
	unitWord, err := tr.ReadWord(dataAddr + layout.UnitNumberOffset)
	require.NoError(t, err)
	assert.Equal(t, uint64(units[2].UnitNumber), unitWord&0xFFFFFFFF)

	productsWord, err := tr.ReadWord(dataAddr + layout.ProductsCompleteOffset)
	require.NoError(t, err)
	assert.Equal(t, uint64(units[2].ProductsComplete), productsWord&0xFFFFFFFF)
}

func TestPlace_MatchesBalancedSplit(t *testing.T) {
	var heap []treeNode
	idxs := []int{0, 1, 2, 3, 4, 5, 6}
	root := place(&heap, idxs)

	require.NotNil(t, root)
	assert.Equal(t, 6, *root)
	require.Len(t, heap, 7)

	assertNode := func(i int, left, right *int, data int) {
		t.Helper()
		assert.Equal(t, left, heap[i].left, "heap[%d].left", i)
		assert.Equal(t, right, heap[i].right, "heap[%d].right", i)
		assert.Equal(t, data, heap[i].data, "heap[%d].data", i)
	}

	ip := func(v int) *int { return &v }

	assertNode(0, nil, nil, 0)
	assertNode(1, nil, nil, 2)
	assertNode(2, ip(0), ip(1), 1)
	assertNode(3, nil, nil, 4)
	assertNode(4, nil, nil, 6)
	assertNode(5, ip(3), ip(4), 5)
	assertNode(6, ip(2), ip(5), 3)
}
