/*
Package bus defines the broker contracts shared by all transports: fire-and-forget
publishing, exclusive-queue subscription with an at-least-once handler protocol,
and coded errors for the failure classes callers branch on.
*/
package bus
