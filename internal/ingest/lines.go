package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"pathfinder/internal/domain"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const maxLineBytes = 4 * 1024 * 1024

// ReadLines reads one test log into indexed lines.
// Params: reader and text encoding ("utf-8" or "gbk").
// Returns: lines with stable zero-based indices, or read error.
func ReadLines(r io.Reader, encoding string) ([]domain.LogLine, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
	case "gbk", "gb18030":
		r = transform.NewReader(r, simplifiedchinese.GB18030.NewDecoder())
	default:
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lines []domain.LogLine
	for scanner.Scan() {
		lines = append(lines, domain.LogLine{
			Index: len(lines),
			Text:  strings.TrimRight(scanner.Text(), "\r"),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log lines: %w", err)
	}
	return lines, nil
}

// ReadFile reads one log file from disk.
// Params: file path and text encoding.
// Returns: indexed lines or read error.
func ReadFile(path, encoding string) ([]domain.LogLine, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	defer file.Close()

	lines, err := ReadLines(file, encoding)
	if err != nil {
		return nil, fmt.Errorf("log file %q: %w", path, err)
	}
	return lines, nil
}
