// Package evolv reads and writes values whose type grows over time without
// breaking zero-copy access.
//
// A line of evolutions is a sequence of pointer-free structs. Each one embeds
// its predecessor as its first field and appends new fields, so every older
// version is a byte prefix of every newer one. Archived values carry only
// their length; a reader binds those bytes to the line it knows and reads the
// newest version that fits (ProbeAs), while data from newer writers is still
// readable up to the reader's latest version.
//
// Owned values are built with Partial, a composite of per-version groups of
// which only a prefix is initialized, and with Pylon, fixed storage holding
// any version up to its own.
package evolv
