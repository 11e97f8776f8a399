package common

import (
	"fmt"
	"github.com/ValentinKolb/memjob/lib/store"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of the demo server.
type ServerConfig struct {
	// HTTP settings (serves /metrics and /info)
	Endpoint string

	// Storage options
	Storage store.Options

	// Demo workload
	Queues        []string
	Producers     int
	Workers       int
	JobsPerSecond int
	LockResource  string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// HTTP settings
	addSection("HTTP Server")
	addField("Endpoint", c.Endpoint)

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Storage
	addSection("Storage")
	addField("Expiration Interval", c.Storage.ExpirationCheckInterval.String())
	addField("Aggregation Interval", c.Storage.CountersAggregateInterval.String())
	addField("Fetch Timeout", c.Storage.FetchNextJobTimeout.String())
	addField("Fetch Poll Interval", c.Storage.FetchPollInterval.String())
	addField("Batch Size", strconv.Itoa(c.Storage.BatchSize))
	addField("Pass Delay", c.Storage.PassDelay.String())

	// Workload
	addSection("Workload")
	addField("Queues", strings.Join(c.Queues, ", "))
	addField("Producers", strconv.Itoa(c.Producers))
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Jobs per Second", strconv.Itoa(c.JobsPerSecond))
	addField("Lock Resource", c.LockResource)

	return sb.String()
}
