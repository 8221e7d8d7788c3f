// Package diagnostics collects host and process resource usage for the
// diagnostics endpoint and the doctor command: CPU, memory, root disk,
// load averages, and Go runtime counters.
package diagnostics
