package controlapi

import (
	"bufio"
	"os"
)

// tailLines returns the last n lines of the file at path. Short files
// (fewer than n lines) return every line they have.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, nil
	}
	size := n
	if count < n {
		size = count
	}
	out := make([]string, size)
	start := count - size
	for i := 0; i < size; i++ {
		out[i] = ring[(start+i)%n]
	}
	return out, nil
}
