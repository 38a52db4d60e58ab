// Package output writes task results to their destinations.
//
// Writers implement [Sink]. [FileSink] commits files atomically below a
// project root so a concurrent reader (the preview server, another task)
// never observes a half-written output. [MemorySink] captures outputs
// without touching the disk and backs the diff command. [Clean] wipes
// destination directories before a full build.
package output
