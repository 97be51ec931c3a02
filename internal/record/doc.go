// Package record encodes and decodes task records: a markdown file with a
// leading "---" metadata block of flat key: value lines followed by a free
// form body. Decoding is tolerant and never fails on malformed text; encoding
// normalizes the metadata block and appends an attributed change log.
package record
