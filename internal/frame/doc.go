// Package frame defines the stream frame vocabulary shared by the server and
// the playback client.
//
// A stream is an AudioInfo frame (optional, first), any number of Chunk frames
// in order, and exactly one terminal Complete or Error frame. Framer cuts a
// transcoded byte stream into chunks; Encoder and Decoder carry frames over
// server-sent events; ParseOutput reads generation worker output, which may
// also contain a started progress marker.
package frame
