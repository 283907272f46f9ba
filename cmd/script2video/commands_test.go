package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableRendersPlainColumns(t *testing.T) {
	var buf bytes.Buffer
	table := newTable(&buf, "SHOT", "UNIT", "STATUS", "ERROR")
	table.Append([]string{"0", "first", "completed", ""})
	table.Append([]string{"3", "last", "failed", "frame timeout"})
	table.Render()

	var lines [][]string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.Fields(line))
		}
	}
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"SHOT", "UNIT", "STATUS", "ERROR"}, lines[0])
	assert.Equal(t, []string{"0", "first", "completed"}, lines[1])
	assert.Equal(t, []string{"3", "last", "failed", "frame", "timeout"}, lines[2])
	assert.NotContains(t, buf.String(), "|")
}
