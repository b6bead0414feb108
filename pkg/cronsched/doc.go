// Package cronsched implements a 1Hz cron trigger loop: it does not
// replace a general-purpose cron service (explicitly out of scope), only
// the narrow job of firing schedule-mode workloads at their next_run.
package cronsched
