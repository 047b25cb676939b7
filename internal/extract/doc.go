// Package extract turns a parser's event stream into index entries.
//
// A Requestor handles one translation unit. It keeps a stack of the
// includes being expanded so that each declaration, reference and problem is
// owned by the file it textually appears in rather than by the translation
// unit. Included files join the index's file table the first time they are
// entered. A ResourceResolver decides their keys: project-relative paths for
// files inside the project, file:// URIs for the rest.
package extract
