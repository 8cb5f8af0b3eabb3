// Package merge implements the three-way text merge (spec §4.7): a
// pure-Go, diff3-style line merge with conflict markers, plus the binary
// short-circuit rule that avoids attempting a line merge on non-text
// input. It is grounded on the original implementation's Merge class,
// which shells out to the system's "diff3 -m -E"; this is an in-process
// reimplementation of the same algorithm and exit-code taxonomy, since no
// merge/diff library appears anywhere in the example pack.
package merge

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/buildservice-client/osc/status"
	"github.com/buildservice-client/osc/wcstate"
)

const (
	conflictMineHeader = "<<<<<<< mine"
	conflictSep        = "======="
	conflictYourFooter = ">>>>>>> yours"
)

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := bytes.Split(data, []byte("\n"))
	// A trailing newline produces one spurious empty trailing element;
	// drop it so "a\nb\n" and "a\nb" both split into ["a","b"].
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}

func overlaps(a, b hunk) bool {
	aEnd, bEnd := a.baseEnd, b.baseEnd
	if a.baseStart == a.baseEnd {
		aEnd = a.baseEnd + 1 // a pure insertion still conflicts with a hunk at the same point
	}
	if b.baseStart == b.baseEnd {
		bEnd = b.baseEnd + 1
	}
	return a.baseStart < bEnd && b.baseStart < aEnd
}

// merge3Lines runs the diff3-style merge over already split lines,
// returning the merged output and whether a conflict was recorded.
func merge3Lines(base, mine, yours []string) (out []string, conflict bool) {
	myHunks := lcsDiff(base, mine)
	yourHunks := lcsDiff(base, yours)

	pos := 0
	i, j := 0, 0
	emitBaseThrough := func(end int) {
		out = append(out, base[pos:end]...)
		pos = end
	}

	for i < len(myHunks) || j < len(yourHunks) {
		switch {
		case j >= len(yourHunks) || (i < len(myHunks) && myHunks[i].baseStart <= yourHunks[j].baseStart && !overlaps(myHunks[i], yourHunks[j])):
			h := myHunks[i]
			emitBaseThrough(h.baseStart)
			out = append(out, mine[h.otherStart:h.otherEnd]...)
			pos = h.baseEnd
			i++
		case i >= len(myHunks) || !overlaps(myHunks[i], yourHunks[j]):
			h := yourHunks[j]
			emitBaseThrough(h.baseStart)
			out = append(out, yours[h.otherStart:h.otherEnd]...)
			pos = h.baseEnd
			j++
		default:
			// Absorb every transitively overlapping hunk from both sides
			// into one merge group.
			groupBase := myHunks[i]
			if yourHunks[j].baseStart < groupBase.baseStart {
				groupBase.baseStart = yourHunks[j].baseStart
			}
			if yourHunks[j].baseEnd > groupBase.baseEnd {
				groupBase.baseEnd = yourHunks[j].baseEnd
			}
			myStart, myEnd := myHunks[i].otherStart, myHunks[i].otherEnd
			yourStart, yourEnd := yourHunks[j].otherStart, yourHunks[j].otherEnd
			i++
			j++
			for {
				advanced := false
				if i < len(myHunks) && myHunks[i].baseStart < groupBase.baseEnd {
					if myHunks[i].baseEnd > groupBase.baseEnd {
						groupBase.baseEnd = myHunks[i].baseEnd
					}
					myEnd = myHunks[i].otherEnd
					i++
					advanced = true
				}
				if j < len(yourHunks) && yourHunks[j].baseStart < groupBase.baseEnd {
					if yourHunks[j].baseEnd > groupBase.baseEnd {
						groupBase.baseEnd = yourHunks[j].baseEnd
					}
					yourEnd = yourHunks[j].otherEnd
					j++
					advanced = true
				}
				if !advanced {
					break
				}
			}

			emitBaseThrough(groupBase.baseStart)
			mineText := mine[myStart:myEnd]
			yourText := yours[yourStart:yourEnd]
			if linesEqual(mineText, yourText) {
				out = append(out, mineText...)
			} else {
				conflict = true
				out = append(out, conflictMineHeader)
				out = append(out, mineText...)
				out = append(out, conflictSep)
				out = append(out, yourText...)
				out = append(out, conflictYourFooter)
			}
			pos = groupBase.baseEnd
		}
	}
	emitBaseThrough(len(base))
	return out, conflict
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Outcome is the result of a Merge call.
type Outcome struct {
	Result wcstate.MergeOutcome
	Err    error
}

// Merge performs a three-way merge of myPath and yourPath against their
// common ancestor oldPath, writing the result to outPath.
//
// Short-circuit: if either side is binary, and myPath's content equals
// oldPath's (mine is unchanged from the ancestor), yourPath is copied to
// outPath and MergeSuccess is reported. Otherwise, if either side is
// binary, MergeBinary is reported and outPath is left untouched. For text
// input, a diff3-style merge runs; conflict markers are written into
// outPath on a conflict.
func Merge(myPath, oldPath, yourPath, outPath string) Outcome {
	myBinary, err := status.IsBinary(myPath)
	if err != nil {
		return Outcome{Result: wcstate.MergeFailure, Err: err}
	}
	yourBinary, err := status.IsBinary(yourPath)
	if err != nil {
		return Outcome{Result: wcstate.MergeFailure, Err: err}
	}
	if myBinary || yourBinary {
		myHash, err := status.HashFile(myPath)
		if err != nil {
			return Outcome{Result: wcstate.MergeFailure, Err: err}
		}
		oldHash, err := status.HashFile(oldPath)
		if err != nil {
			return Outcome{Result: wcstate.MergeFailure, Err: err}
		}
		if myHash == oldHash {
			if err := copyFile(yourPath, outPath); err != nil {
				return Outcome{Result: wcstate.MergeFailure, Err: err}
			}
			return Outcome{Result: wcstate.MergeSuccess}
		}
		return Outcome{Result: wcstate.MergeBinary}
	}

	myData, err := os.ReadFile(myPath)
	if err != nil {
		return Outcome{Result: wcstate.MergeFailure, Err: err}
	}
	oldData, err := os.ReadFile(oldPath)
	if err != nil {
		return Outcome{Result: wcstate.MergeFailure, Err: err}
	}
	yourData, err := os.ReadFile(yourPath)
	if err != nil {
		return Outcome{Result: wcstate.MergeFailure, Err: err}
	}

	out, conflict := merge3Lines(splitLines(oldData), splitLines(myData), splitLines(yourData))
	if err := writeLines(outPath, out); err != nil {
		return Outcome{Result: wcstate.MergeFailure, Err: err}
	}
	if conflict {
		return Outcome{Result: wcstate.MergeConflict}
	}
	return Outcome{Result: wcstate.MergeSuccess}
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return w.Flush()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
