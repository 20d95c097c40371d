// Package domain holds the Task and EmailLog entities and the task
// lifecycle state machine. It has no storage or transport dependencies.
package domain
