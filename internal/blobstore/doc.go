// Package blobstore reads cost export blobs.
//
// Azure reads from the export container with azblob; Filesystem reads a
// local copy of the container, with MD5 sidecar files standing in for the
// Content-MD5 property.
package blobstore
