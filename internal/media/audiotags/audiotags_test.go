package audiotags

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

// buildOgg lays packets out as Ogg pages with at most maxSegments lacing
// values per page.
func buildOgg(serial uint32, maxSegments int, packets ...[]byte) []byte {
	var laces []byte
	var data []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			laces = append(laces, 255)
			n -= 255
		}
		laces = append(laces, byte(n))
		data = append(data, p...)
	}
	var out bytes.Buffer
	seq := uint32(0)
	continued := false
	for len(laces) > 0 {
		count := min(maxSegments, len(laces))
		pageLaces := laces[:count]
		laces = laces[count:]
		size := 0
		for _, l := range pageLaces {
			size += int(l)
		}
		page := make([]byte, 27, 27+count+size)
		copy(page, "OggS")
		if continued {
			page[5] = 0x1
		}
		binary.LittleEndian.PutUint32(page[14:], serial)
		binary.LittleEndian.PutUint32(page[18:], seq)
		page[26] = byte(count)
		page = append(page, pageLaces...)
		page = append(page, data[:size]...)
		binary.LittleEndian.PutUint32(page[22:], oggChecksum(page))
		out.Write(page)
		data = data[size:]
		continued = pageLaces[count-1] == 255
		seq++
	}
	return out.Bytes()
}

// oggChecksum is the page CRC: polynomial 0x04c11db7, no reflection,
// computed with the checksum field zeroed.
func oggChecksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc ^= uint32(b) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// buildID3 writes an ID3v2.3 tag holding one TXXX frame per field pair,
// followed by padding.
func buildID3(pairs ...string) []byte {
	var frames bytes.Buffer
	for i := 0; i+1 < len(pairs); i += 2 {
		body := append([]byte{0x03}, pairs[i]+"\x00"+pairs[i+1]...)
		frames.WriteString("TXXX")
		binary.Write(&frames, binary.BigEndian, uint32(len(body)))
		frames.Write([]byte{0, 0})
		frames.Write(body)
	}
	frames.Write(make([]byte, 10))
	size := frames.Len()
	header := []byte{'I', 'D', '3', 3, 0, 0,
		byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)}
	return append(header, frames.Bytes()...)
}

func opusTags(comments ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("OpusTags")
	vendor := "novelverse-test"
	binary.Write(&buf, binary.LittleEndian, uint32(len(vendor)))
	buf.WriteString(vendor)
	binary.Write(&buf, binary.LittleEndian, uint32(len(comments)))
	for _, c := range comments {
		binary.Write(&buf, binary.LittleEndian, uint32(len(c)))
		buf.WriteString(c)
	}
	return buf.Bytes()
}

func TestExtractOpusTags(t *testing.T) {
	head := buildOgg(7, 255,
		[]byte("OpusHead\x01\x01\x38\x01\x80\xbb\x00\x00\x00\x00\x00"),
		opusTags("duration=312.5", "Lyrics=Chapter one begins.", "wpm=158"),
		bytes.Repeat([]byte{0xfc}, 600),
	)
	tags, err := Extractor{}.Extract(context.Background(), head)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if tags.Duration != 312.5 {
		t.Fatalf("unexpected duration %v", tags.Duration)
	}
	if tags.Lyrics != "Chapter one begins." {
		t.Fatalf("unexpected lyrics %q", tags.Lyrics)
	}
	if tags.WPM == nil || *tags.WPM != 158 {
		t.Fatalf("unexpected wpm %v", tags.WPM)
	}
	info := tags.AudioInfo()
	if info.Duration != 312.5 || info.Text != "Chapter one begins." {
		t.Fatalf("unexpected audio info %#v", info)
	}
}

func TestExtractCommentsSpanningPages(t *testing.T) {
	lyrics := strings.Repeat("word ", 400)
	head := buildOgg(1, 3,
		[]byte("OpusHead\x01\x01"),
		opusTags("DURATION=60", "LYRICS="+lyrics),
	)
	tags, err := Extractor{}.Extract(context.Background(), head)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if tags.Lyrics != lyrics {
		t.Fatalf("expected lyrics reassembled across pages, got %d bytes", len(tags.Lyrics))
	}
	if tags.WPM != nil {
		t.Fatalf("expected absent WPM, got %v", *tags.WPM)
	}
}

func TestExtractTruncatedHeadReportsTruncation(t *testing.T) {
	head := buildOgg(1, 255,
		[]byte("OpusHead\x01\x01"),
		opusTags("DURATION=42", "LYRICS="+strings.Repeat("x", 4000)),
	)
	_, err := Extractor{}.Extract(context.Background(), head[:len(head)-100])
	if !errors.Is(err, ErrHeadTruncated) {
		t.Fatalf("expected ErrHeadTruncated, got %v", err)
	}

	tags, err := Extractor{}.Extract(context.Background(), head)
	if err != nil {
		t.Fatalf("Extract returned error on the full head: %v", err)
	}
	if tags.Duration != 42 || len(tags.Lyrics) != 4000 {
		t.Fatalf("unexpected tags from full head: duration %v, %d lyric bytes", tags.Duration, len(tags.Lyrics))
	}
}

func TestExtractRejectsCorruptPage(t *testing.T) {
	head := buildOgg(1, 255,
		[]byte("OpusHead\x01\x01"),
		opusTags("DURATION=42"),
	)
	head[len(head)-1] ^= 0xff
	_, err := Extractor{}.Extract(context.Background(), head)
	if err == nil || errors.Is(err, ErrHeadTruncated) {
		t.Fatalf("expected checksum failure, got %v", err)
	}
}

func TestExtractID3UserText(t *testing.T) {
	head := buildID3("DURATION", "95.25", "lyrics", "Chapter two.", "WPM", "171")
	tags, err := Extractor{}.Extract(context.Background(), head)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if tags.Duration != 95.25 || tags.Lyrics != "Chapter two." {
		t.Fatalf("unexpected tags %#v", tags)
	}
	if tags.WPM == nil || *tags.WPM != 171 {
		t.Fatalf("unexpected wpm %v", tags.WPM)
	}

	_, err = Extractor{}.Extract(context.Background(), head[:20])
	if !errors.Is(err, ErrHeadTruncated) {
		t.Fatalf("expected ErrHeadTruncated for a cut ID3 tag, got %v", err)
	}
}

func TestExtractRejectsUntaggedWithoutFFprobe(t *testing.T) {
	_, err := (Extractor{}).Extract(context.Background(), []byte("RIFF\x24\x00\x00\x00WAVEfmt "))
	if err == nil {
		t.Fatal("expected error for untagged input without ffprobe")
	}
	if errors.Is(err, ErrHeadTruncated) {
		t.Fatalf("untagged input must not ask for a longer head: %v", err)
	}
}

func TestFromFieldsIgnoresGarbage(t *testing.T) {
	tags := FromFields(map[string]string{"Duration": "soon", "WPM": "-3", "lyrics": "ok"})
	if tags.Duration != 0 || tags.WPM != nil || tags.Lyrics != "ok" {
		t.Fatalf("unexpected tags %#v", tags)
	}
}
