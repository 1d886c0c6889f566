// Package bt provides a high-level API for parsing and serializing binary data
// described by bintype definitions.
//
// Definitions are loaded from disk, compiled once and cached. A path either
// names a definition file (`.bt`) or a YAML manifest that points at one:
//
//	definition: record.bt
//	includes:
//	  - common.bt
//	class: Record
//	check: "hdr.len == size"
//
// Basic usage:
//
//	// Parse binary data to JSON in wire order
//	jsonData, err := bt.ParseToJSON(binaryData, "path/to/record.bt", bt.WithClass("Record"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Convert JSON back to binary
//	binaryData, err := bt.StoreFromJSON(jsonData, "path/to/record.bt", bt.WithClass("Record"))
//	if err != nil {
//	    log.Fatal(err)
//	}
package bt
