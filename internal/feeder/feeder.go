// Package feeder loads the newline-delimited address dataset consumed once at
// startup. One line is one request target; lines may carry surrounding double
// quotes (common when the file is exported from a spreadsheet).
package feeder

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadAddresses reads a newline-delimited address file. Surrounding
// whitespace and double quotes are stripped from each line; empty lines are
// skipped.
func LoadAddresses(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open addresses file: %w", err)
	}
	defer file.Close()

	var addresses []string
	scanner := bufio.NewScanner(file)
	// Street addresses are short, but leave room for junk lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		addresses = append(addresses, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read addresses file: %w", err)
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("addresses file %s contains no addresses", path)
	}
	return addresses, nil
}
