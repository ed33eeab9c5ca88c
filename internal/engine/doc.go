// Package engine is a sans-I/O connection engine.
//
// An Engine owns one Connection, its Transport and every Session, Link and
// delivery created on it. The caller moves bytes in and out through
// ReadBuffer/ReadDone and WriteBuffer/WriteDone and drains protocol events
// through Dispatch, which calls the bound Handler once per event in the
// order the frames implied.
//
// Ownership boundary:
// - endpoint lifecycle for connection/session/link records
// - intent serialization (open/close/attach/flow/transfer/disposition)
// - event queue and handler dispatch
//
// An Engine is confined to one goroutine at a time. Handlers may queue
// intents on the entities they receive but must not call back into
// ReadDone, WriteDone or Dispatch.
package engine
