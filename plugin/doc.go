// Package plugin provides functionality that is not available with just the pipeline and its defaults.
// Splitting these out into their own, independent (except what's provided in pkg) packages means that they can be omitted in favor of a smaller build size if the functionality isn't needed.
//
// Parsers and formatters are registered by name, and looked up with the input and output format names given on the command line.
// Formatters must be safe for concurrent use, since one instance is shared by all workers of a parallel run.
//
// "Source" functions should take the name of an input and return an iterator.Iterator of its lines.
// Sources should close any resources, like file handles or channels, and stop any associated goroutine when they have reached the end of their input or the context is cancelled.
//
// "Sink" functions create a pipeline.RecordSink that receives each surviving event in output order.
//
//	Current Plugins:
//	- formats provides the json, logfmt, line and regex parsers, and the default, json, logfmt, csv and summary formatters.
//	- file provides file and glob sources, including tail support.
//	- stdstream provides the stdin source and the stdout/stderr writers.
//	- store provides an SQLite sink, and a source that reads a stored table back.
package plugin
