// Package dedupe remembers which webhook events have been processed so that
// Asana's at-least-once redeliveries are acted on only once.
package dedupe
