// Package manifest loads extension manifests.
//
// A manifest names the bridge id shared by an extension's two worlds and
// lists the content scripts injected into each. JSON, YAML and TOML
// encodings are accepted; script paths are doublestar globs.
package manifest
