// Package all wires the built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. Importing it makes the following
// storage kinds available at runtime:
//
//   - "postgres" (cleanse/internal/storage/postgres)
//   - "sqlite"   (cleanse/internal/storage/sqlite)
//
// A binary that only needs one backend can import that backend package
// directly instead of this one.
package all

import (
	_ "cleanse/internal/storage/postgres"
	_ "cleanse/internal/storage/sqlite"
)
