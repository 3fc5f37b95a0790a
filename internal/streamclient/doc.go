// Package streamclient consumes the chapter stream endpoints.
//
// Client.Open requests GET /stream and decodes server-sent events;
// Client.OpenWS dials /ws/stream and reads one frame per message. Both yield
// frames through Next and can be pumped into a playback.Engine, and
// ChapterSource adapts a Client to playback.Source so a Player can reopen
// chapters after a broken stream.
package streamclient
