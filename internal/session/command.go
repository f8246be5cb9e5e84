package session

import (
	"fmt"
	"os"
	"strings"
)

const agentCommand = "claude"

// nestedSessionMarkers are environment variables the hosted CLI sets on its
// own children. Left in place, a CLI spawned inside another refuses to
// start, so they are stripped from every spawned environment.
var nestedSessionMarkers = map[string]bool{
	"CLAUDECODE":             true,
	"CLAUDE_CODE_ENTRYPOINT": true,
	"CLAUDE_CODE_SSE_PORT":   true,
}

// launchTable maps every launch kind to its argv builder.
var launchTable = map[LaunchKind]func(dangerous bool) []string{
	LaunchAgent: func(dangerous bool) []string {
		argv := []string{agentCommand}
		if dangerous {
			argv = append(argv, "--dangerously-skip-permissions")
		}
		return argv
	},
	LaunchResumedAgent: func(dangerous bool) []string {
		argv := []string{agentCommand, "--continue"}
		if dangerous {
			argv = append(argv, "--dangerously-skip-permissions")
		}
		return argv
	},
	LaunchShell: func(bool) []string {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
		return []string{shell}
	},
}

// commandFor resolves a launch kind to the argv to execute.
func commandFor(kind LaunchKind, dangerous bool) ([]string, error) {
	build, ok := launchTable[kind]
	if !ok {
		return nil, fmt.Errorf("unknown launch kind: %s", kind)
	}
	return build(dangerous), nil
}

// sanitizedEnv returns env with the nested-session markers removed.
func sanitizedEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if nestedSessionMarkers[key] {
			continue
		}
		out = append(out, kv)
	}
	return out
}
