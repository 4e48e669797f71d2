// Package pools provides object pooling for reducing GC pressure.
//
// Forcing providers hand out one lateral-inflow frame per time step; on a
// large forest that is a multi-megabyte allocation every step. Float64Pool
// lets the driver hand those frames back once a step has been routed.
package pools
