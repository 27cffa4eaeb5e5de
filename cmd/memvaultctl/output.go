package main

import (
	"encoding/json"
	"fmt"
)

// printJSON writes v as indented JSON to stdout. A marshal failure is a
// programmer error, not a user-facing validation failure, so it still
// exits exitValidation rather than panicking a CLI process.
func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		die(exitValidation, "encode output: %v", err)
	}
	fmt.Println(string(b))
}
