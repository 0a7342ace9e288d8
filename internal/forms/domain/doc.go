// Package domain holds the pure form-lifecycle rules: schedule validation,
// reminder eligibility, permission grant computation, event classification,
// and the derived identifiers shared by every transition.
//
// Nothing in this package performs I/O. The same functions run on create and
// update so the storage layer never sees two flavors of the same rule.
package domain
