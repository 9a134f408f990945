package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/testutil"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testCluster struct {
	root  string
	nodes []*DataNode
	nn    *NameNode
}

// newTestCluster builds a name node over count data nodes named datanode1..N,
// each with the given capacity, rooted under a fresh temp directory.
func newTestCluster(t *testing.T, count int, capacity int64) *testCluster {
	t.Helper()
	return openTestCluster(t, t.TempDir(), count, capacity)
}

// openTestCluster builds a cluster over an existing root so tests can restart it.
func openTestCluster(t *testing.T, root string, count int, capacity int64) *testCluster {
	t.Helper()

	tc := &testCluster{root: root}
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("datanode%d", i)
		dn, err := NewDataNode(id, filepath.Join(root, id), capacity, logger.NewNoOpLogger())
		testutil.RequireNoError(t, err)
		tc.nodes = append(tc.nodes, dn)
	}

	cfg := DefaultConfig(filepath.Join(root, "metadata"))
	cfg.Now = func() time.Time { return testEpoch }
	nn, err := NewNameNode(cfg, tc.nodes...)
	testutil.RequireNoError(t, err)
	tc.nn = nn
	return tc
}

func (tc *testCluster) node(id string) *DataNode {
	for _, dn := range tc.nodes {
		if dn.ID() == id {
			return dn
		}
	}
	return nil
}

func (tc *testCluster) totalUsed() int64 {
	var used int64
	for _, dn := range tc.nodes {
		used += dn.State().UsedSpace
	}
	return used
}

// payload returns n deterministic bytes that differ from block to block.
func payload(n int) []byte {
	var buf bytes.Buffer
	for i := 0; buf.Len() < n; i++ {
		fmt.Fprintf(&buf, "%06d|", i)
	}
	return buf.Bytes()[:n]
}
