// Package audiotags extracts the DURATION, LYRICS, and WPM comments the
// generation worker embeds in cached chapter audio, reading only the head of
// the object.
package audiotags
