// Package parcel implements the minimal marshalling container exchanged with
// the dIPC transaction engine.
//
// The package focuses on:
//   - Serializing typed values into a 4-byte aligned payload
//   - Recording the offsets of embedded flattened objects so that the driver
//     can translate them between processes
//   - Wrapping driver-owned incoming memory without copying it, together with
//     a release callback that hands the memory back to the driver
//
// Key Components:
//
//   - Parcel: A payload plus its object offsets table. Parcels created with New
//     own their memory and are writable. Parcels created with Wrap reference
//     memory owned by someone else, are read-only, and must be recycled once
//     the reader is done.
package parcel
