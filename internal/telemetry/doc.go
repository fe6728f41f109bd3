// Package telemetry feeds relay statistics to InfluxDB.
package telemetry
