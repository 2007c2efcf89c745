// Package patcher applies unified-diff patches to the target project under
// a strict safety protocol: snapshot before writing, gate the result on a
// syntax check, retest, and roll back on any outcome short of a verified
// pass. The workspace is never left in an intermediate state.
package patcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ErrNoHunk is returned when a diff parses but contains no applicable
// hunks, or fails to parse at all. Nothing has been written or backed up
// when this is returned.
var ErrNoHunk = errors.New("diff contains no applicable hunks")

// parsePatch parses a single-file unified diff. Multi-file diffs are
// rejected: patches target exactly one file per attempt.
func parsePatch(diffText string) (*diff.FileDiff, error) {
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHunk, err)
	}
	if len(fds) == 0 {
		return nil, ErrNoHunk
	}
	if len(fds) > 1 {
		return nil, fmt.Errorf("patch touches %d files, expected exactly one", len(fds))
	}
	if len(fds[0].Hunks) == 0 {
		return nil, ErrNoHunk
	}
	return fds[0], nil
}

// applyFileDiff splices the hunks into the original content. Hunk line
// numbers refer to the original file, so hunks are applied in order while
// walking the original exactly once.
func applyFileDiff(original []byte, fd *diff.FileDiff) ([]byte, error) {
	origLines := strings.Split(string(original), "\n")
	newLines := make([]string, 0, len(origLines))

	origIdx := 0
	for _, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunkStart < origIdx {
			return nil, fmt.Errorf("overlapping hunks at line %d", hunk.OrigStartLine)
		}
		if hunkStart > len(origLines) {
			return nil, fmt.Errorf("hunk start %d beyond end of file (%d lines)", hunk.OrigStartLine, len(origLines))
		}
		for origIdx < hunkStart {
			newLines = append(newLines, origLines[origIdx])
			origIdx++
		}

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				newLines = append(newLines, line[1:])
			case strings.HasPrefix(line, "-"):
				if origIdx >= len(origLines) {
					return nil, fmt.Errorf("hunk removes past end of file")
				}
				if origLines[origIdx] != line[1:] {
					return nil, fmt.Errorf("hunk context mismatch at line %d: file has %q, patch expects %q",
						origIdx+1, origLines[origIdx], line[1:])
				}
				origIdx++
			case strings.HasPrefix(line, " "):
				if origIdx >= len(origLines) {
					return nil, fmt.Errorf("hunk context past end of file")
				}
				if origLines[origIdx] != line[1:] {
					return nil, fmt.Errorf("hunk context mismatch at line %d: file has %q, patch expects %q",
						origIdx+1, origLines[origIdx], line[1:])
				}
				newLines = append(newLines, origLines[origIdx])
				origIdx++
			case line == "":
				// Trailing newline artifact of splitting the hunk body.
			default:
				return nil, fmt.Errorf("unrecognized hunk line %q", line)
			}
		}
	}

	for origIdx < len(origLines) {
		newLines = append(newLines, origLines[origIdx])
		origIdx++
	}
	return []byte(strings.Join(newLines, "\n")), nil
}
