// Package pkg provides the core functionality of processing lines of log input into structured events.
// This package (and subpackages) is a dependency of anything in the plugin package.
//   - The iterator package contains functions for creating and altering the behavior of a line iterator.Iterator.
//   - The entries package contains the entries.LogEntry field map and the entries.Event built from it.
//   - The multiline package contains chunkers that assemble several lines into one record.
//   - The script package compiles and evaluates user expressions.
//   - The pipeline package threads each line through parsing, script stages and formatting.
package pkg
