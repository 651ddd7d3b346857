// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"os"
	"strings"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// getTutorBaseURL resolves the service address from the environment.
func getTutorBaseURL() string {
	baseURL := strings.Trim(os.Getenv("TUTOR_SERVICE_URL"), "\"' ")
	if baseURL == "" {
		baseURL = "http://localhost:12310"
	}
	return strings.TrimSuffix(baseURL, "/")
}
