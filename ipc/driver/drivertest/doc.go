// Package drivertest provides Broker, an in-process simulation of the binder
// kernel driver that implements driver.IDriver.
//
// A Broker decodes every command written to it, keeps a log of them and
// delivers scripted return records to the reading threads. Outgoing
// memory is tracked through fake addresses handed out by Address, and
// incoming transaction payloads live in an arena of fake driver buffers
// that the engine must hand back with BC_FREE_BUFFER.
//
// Return records can be queued for any reader (Queue) or for one thread
// (QueueTo). A Responder hook sees every decoded command and can react by
// queueing replies, which is how tests simulate a remote peer. With
// AutoComplete set the broker answers BC_TRANSACTION, BC_REPLY and
// BC_CLEAR_DEATH_NOTIFICATION the way the kernel does.
package drivertest
