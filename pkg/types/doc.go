// Package types defines the project and task model shared by every Fira
// component: stages, modes, the resolved dataset, cache snapshots,
// configuration, and the sentinel errors callers classify with errors.Is.
package types
