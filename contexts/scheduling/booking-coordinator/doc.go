// Package bookingcoordinator applies class payments inside the scheduling
// context.
//
// A payment touches three documents: the payment itself, the class booking
// counter and, optionally, a trainer slot. No store offers a transaction over
// all three, so the module runs them as an ordered saga. The payment insert is
// the durability point; the class credit is keyed by payment id and the slot
// transition is guarded by its status, so every step can be re-driven. A
// settlement record per payment tracks step outcomes and a reconciler worker
// finishes whatever a request left behind.
//
// The module also serves the read-side rollups: the admin balance and the
// featured class list.
package bookingcoordinator
