package dispatcher

import (
	"bufio"
	"os"
)

// tailLogFile returns the last n lines of path, or nil if it cannot be
// read (task never spawned, log rotated away, etc. - Log is read-only and
// best-effort).
func tailLogFile(path string, n int) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}

	out := make([]byte, 0)
	for i, line := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, line...)
	}
	return out
}
