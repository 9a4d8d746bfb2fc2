// Package cron parses five-field cron expressions and runs a job on the
// resulting schedule as a launcher App.
//
// Expressions use the standard "minute hour day-of-month month day-of-week"
// fields with lists, ranges and steps, evaluated in UTC. The shorthands
// @hourly, @daily, @weekly and @monthly are also accepted.
package cron
