// Package commands defines the petclassify CLI.
//
// Commands
//
//   - classify   Classify one or more images as cat or dog
//   - features   Print the extracted features of an image
//   - token      Issue a bearer token for a classifier host
//
// # Implementation
//
// Image references are files, http(s) URLs or data URIs. The root command
// builds the loader and logger before any subcommand runs; classify runs in
// process unless --remote names a gRPC host.
package commands
