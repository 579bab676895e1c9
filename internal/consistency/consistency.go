// Package consistency checks that example files kept in the repository
// match the examples embedded in its documentation.
package consistency

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// ConsistencyCheckError reports a file whose content differs from the
// documented example.
type ConsistencyCheckError struct {
	File string
	// Diff is a line diff, (-documented +file).
	Diff string
}

func (e *ConsistencyCheckError) Error() string {
	return fmt.Sprintf("%s does not match its documented example (-documented +file):\n%s", e.File, e.Diff)
}

// Marker returns the comment text that precedes example n.
func Marker(n int) string {
	return fmt.Sprintf("begin_example_%d", n)
}

// ExtractExample returns the body of the first fenced code block after the
// marker of example n. The fence lines themselves are not included; the
// body keeps its trailing newline.
func ExtractExample(doc string, n int) (string, error) {
	marker := Marker(n)
	var (
		b         strings.Builder
		found     bool
		inFence   bool
		fenceDone bool
	)
	sc := bufio.NewScanner(strings.NewReader(doc))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case !found:
			found = strings.Contains(line, marker)
		case !inFence:
			inFence = strings.HasPrefix(line, "```")
		case line == "```":
			fenceDone = true
		default:
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if fenceDone {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	switch {
	case !found:
		return "", fmt.Errorf("marker %s not found", marker)
	case !fenceDone:
		return "", fmt.Errorf("no complete code block after %s", marker)
	}
	return b.String(), nil
}

// CompareFile returns a ConsistencyCheckError when the file at path does
// not hold exactly want.
func CompareFile(path, want string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	got := string(data)
	if got == want {
		return nil
	}
	return &ConsistencyCheckError{
		File: path,
		Diff: cmp.Diff(strings.Split(want, "\n"), strings.Split(got, "\n")),
	}
}
