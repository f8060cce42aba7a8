// Package stream buffers agent output and flushes it into chat posts.
//
// Two thresholds govern every flush: the soft limit, past which the streamer
// searches for a logical breakpoint so posts stay below the platform's
// collapse threshold, and the hard limit, the platform's message-size
// ceiling, which is never exceeded. Breakpoints are only accepted outside
// open code fences; a forced split inside a fence closes it in the first
// half and reopens an identical fence in the second, so both halves render
// as valid code blocks.
package stream
