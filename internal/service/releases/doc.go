// Package releases implements the release registry: ingesting release
// events, answering "am I on the latest version" checks and building the
// public changelog.
//
// Reads only honor the latest flag; it is moved by Promote, never by ingest.
// Newly ingested releases are unstable and visible in the changelog.
package releases
