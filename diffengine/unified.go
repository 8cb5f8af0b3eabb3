package diffengine

import "fmt"

// opKind is one line-level edit in an old->new transcript.
type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

// op is one line of an old->new edit script. aIdx/bIdx are the 0-based
// cursor positions in the old/new line slices at the moment the op was
// emitted, which is all renderHunk needs to compute a hunk's header.
type op struct {
	kind  opKind
	line  string
	aIdx  int
	bIdx  int
}

// lcsOps computes the old->new edit script via the same longest-common-
// subsequence table merge/diff3.go's lcsDiff uses for three-way hunks,
// one level simpler: two sequences instead of three, emitting a full
// equal/delete/insert transcript instead of just the non-matching
// spans, since the unified-diff renderer below needs the equal runs to
// build context lines.
func lcsOps(a, b []string) []op {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]op, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, op{kind: opEqual, line: a[i], aIdx: i, bIdx: j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			ops = append(ops, op{kind: opDelete, line: a[i], aIdx: i, bIdx: j})
			i++
		default:
			ops = append(ops, op{kind: opInsert, line: b[j], aIdx: i, bIdx: j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, op{kind: opDelete, line: a[i], aIdx: i, bIdx: j})
	}
	for ; j < m; j++ {
		ops = append(ops, op{kind: opInsert, line: b[j], aIdx: i, bIdx: j})
	}
	return ops
}

// contextLines is the number of unchanged lines kept around a change,
// matching difflib's unified_diff default.
const contextLines = 3

// unifiedHunks groups an edit script into hunks with surrounding
// context and renders each as "@@ -aStart,aCount +bStart,bCount @@"
// followed by ' '/'-'/'+' prefixed lines. A wholly-added or
// wholly-deleted file (one side empty) naturally produces the
// synthetic zero-length header ("@@ -0,0 +1,N @@" or "@@ -1,N +0,0 @@")
// a reverse-apply needs, since aCount/bCount fall out to 0 on the
// empty side without any special-casing.
func unifiedHunks(a, b []string) []string {
	ops := lcsOps(a, b)
	var hunks []string
	i := 0
	for i < len(ops) {
		if ops[i].kind == opEqual {
			i++
			continue
		}
		start := i
		for i < len(ops) && ops[i].kind != opEqual {
			i++
		}
		end := i
		ctxStart := start
		for k := 0; k < contextLines && ctxStart > 0 && ops[ctxStart-1].kind == opEqual; k++ {
			ctxStart--
		}
		ctxEnd := end
		for k := 0; k < contextLines && ctxEnd < len(ops) && ops[ctxEnd].kind == opEqual; k++ {
			ctxEnd++
		}
		hunks = append(hunks, renderHunk(ops[ctxStart:ctxEnd]))
		i = ctxEnd
	}
	return hunks
}

func renderHunk(ops []op) string {
	var aCount, bCount int
	var body []byte
	for _, o := range ops {
		switch o.kind {
		case opEqual:
			aCount++
			bCount++
			body = append(body, ' ')
		case opDelete:
			aCount++
			body = append(body, '-')
		case opInsert:
			bCount++
			body = append(body, '+')
		}
		body = append(body, o.line...)
		body = append(body, '\n')
	}
	aStart := 0
	if aCount > 0 {
		aStart = ops[0].aIdx + 1
	}
	bStart := 0
	if bCount > 0 {
		bStart = ops[0].bIdx + 1
	}
	header := fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", aStart, aCount, bStart, bCount)
	return header + string(body)
}
