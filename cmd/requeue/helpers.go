package main

import (
	"encoding/json"
	"os"
)

// getEnv returns the environment variable key, or fallback when unset.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// streamJSONValues reads a top level JSON array one element at a time,
// so large id lists never sit in memory whole:
//
//	[17, 18, 42]
func streamJSONValues(filename string) (<-chan json.RawMessage, <-chan error) {
	out := make(chan json.RawMessage)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		file, err := os.Open(filename)
		if err != nil {
			errs <- err
			return
		}
		defer file.Close()

		dec := json.NewDecoder(file)
		if _, err := dec.Token(); err != nil {
			errs <- err
			return
		}
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				errs <- err
				return
			}
			out <- raw
		}
		if _, err := dec.Token(); err != nil {
			errs <- err
		}
	}()

	return out, errs
}
