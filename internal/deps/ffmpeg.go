package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

const versionTimeout = 5 * time.Second

// ProbeVersion runs "<binary> -version" and returns the version token of
// the banner, e.g. "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func ProbeVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	cmd := commandContext(ctx, binary, "-version")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	return parseVersion(stdout.Bytes())
}

func parseVersion(output []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	if !scanner.Scan() {
		return "", fmt.Errorf("empty version output")
	}
	fields := strings.Fields(scanner.Text())
	for i, field := range fields {
		if field == "version" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", fmt.Errorf("unrecognized version banner %q", scanner.Text())
}
