// Package cron evaluates cron expressions and manages one live trigger per
// recurring job template. Expressions use the standard 5-field syntax plus
// descriptors like "@every 30s". Templates never execute themselves: each
// firing spawns a separate immediate-kind run instance.
package cron
