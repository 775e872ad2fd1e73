package compiler

import (
	"os"
	"strings"
)

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// QueueEnvVar returns the environment variable that overrides the input
// queue of an action: CAF_WORKFLOW_ACTION_<NAME>_INPUT_QUEUE with the name
// upper-cased and otherwise kept as is.
func QueueEnvVar(action string) string {
	return "CAF_WORKFLOW_ACTION_" + strings.ToUpper(action) + "_INPUT_QUEUE"
}

// QueueName resolves the input queue of an action: environment override,
// then the declared queue name, then the action name with "-in".
func QueueName(action, declared string, lookup LookupEnv) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(QueueEnvVar(action)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if declared != "" {
		return declared
	}
	return action + "-in"
}
