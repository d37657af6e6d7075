// Package radio implements the radio task manager for the tracker.
//
// Every state transition of a radio unit is a Task executed by the unit's
// single dispatcher goroutine. Producers obtain a Task from the unit's
// fixed-size pool, fill it in and submit it; the dispatcher drains the FIFO,
// runs the transition, invokes the task callback and returns the task to the
// pool. Sends are handed to a transmit worker and come back to the dispatcher
// as a TxThreadDone task once the RF burst ends.
//
// Concurrency contract:
//   - The dispatcher is the sole writer of receive session state.
//   - The resource lock guards hardware programming only, never a send.
//   - txCount and the published receive configuration are safe to read
//     from any goroutine.
package radio
