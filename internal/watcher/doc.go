// Package watcher follows project directories with fsnotify and reports
// debounced changes to a Sink.
//
// Every directory below a root is watched individually; directories created
// later are added as their events arrive and removed directories are
// dropped. Events for one path inside the debounce window are merged, so an
// editor's create-write-write sequence arrives as a single FileAdded.
//
// Hidden files and paths matching the configured ignore patterns are
// skipped, except for the project settings file at the root, whose change
// is reported as SettingsChanged.
package watcher
