package main

import (
	"sync"

	"github.com/spf13/cobra"
)

// commandExecutionContext records which command is running so the fatal
// error path can pick its output format.
type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	commandContextMu sync.Mutex
	commandContext   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	commandContextMu.Lock()
	commandContext = ctx
	commandContextMu.Unlock()
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}

func currentCommandExecutionContext() commandExecutionContext {
	commandContextMu.Lock()
	defer commandContextMu.Unlock()
	return commandContext
}

// Long-running and operational commands log JSON; commands whose output is
// read by a person print plain text.
var structuredLogCommands = map[string]bool{
	"serve":   true,
	"scan":    true,
	"migrate": true,
}

func commandUsesStructuredLogging(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if structuredLogCommands[c.Name()] {
			return true
		}
	}
	return false
}
