// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates CUE documents against embedded schemas and decodes
// them into Go values.
//
// Every CUE file lunekit reads (the lockfile and the user config) goes through
// the same steps: compile the schema, compile the document, unify the two at a
// schema definition, validate, decode.
//
//	//go:embed lockfile_schema.cue
//	var lockSchema []byte
//
//	res, err := cueutil.ParseAndDecode[lockDocument](lockSchema, data, "#Lockfile",
//		cueutil.WithFilename("lunekit.lock.cue"))
package cueutil
