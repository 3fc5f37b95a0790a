// Package transcode runs ffmpeg as a streaming filter, turning the stored
// Ogg/Opus chapter audio into a browser-friendly format.
//
// A Pool bounds concurrent processes. Each Process is killed as a whole
// process group so no ffmpeg child outlives its session.
package transcode
