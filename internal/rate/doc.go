// Package rate throttles login and refresh attempts with fixed-window
// Redis counters, shared across all service instances.
package rate
