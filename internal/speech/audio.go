package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Encoding identifies the container/codec of an uploaded clip.
type Encoding int

const (
	// EncodingUnknown is never returned by Sniff with a nil error.
	EncodingUnknown Encoding = iota
	// EncodingLinear16 is headerless 16-bit little-endian mono PCM.
	EncodingLinear16
	// EncodingOggOpus is Opus in an Ogg container.
	EncodingOggOpus
	// EncodingFLAC is a native FLAC stream.
	EncodingFLAC
	// EncodingWebMOpus is Opus in a WebM container (browser MediaRecorder).
	EncodingWebMOpus
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingLinear16:
		return "LINEAR16"
	case EncodingOggOpus:
		return "OGG_OPUS"
	case EncodingFLAC:
		return "FLAC"
	case EncodingWebMOpus:
		return "WEBM_OPUS"
	default:
		return "UNKNOWN"
	}
}

// Default sample rates when the container does not say.
const (
	defaultOpusRate = 16000
	webmOpusRate    = 48000
)

// Clip is an uploaded recording prepared for recognition.
type Clip struct {
	// Encoding is the sniffed encoding of Data.
	Encoding Encoding
	// SampleRate is in Hz; 0 lets the recognizer read it from the stream.
	SampleRate int
	// MIME is the MIME type of Original.
	MIME string
	// Data is the payload to send to a recognizer. For WAV input it is the
	// normalised PCM, otherwise it is Original.
	Data []byte
	// Original is the uploaded bytes.
	Original []byte
}

// Prepare sniffs the container of b and normalises WAV input to mono
// 16-bit PCM.
func Prepare(b []byte) (Clip, error) {
	if len(b) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	switch {
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE":
		pcm, rate, err := normaliseWAV(b)
		if err != nil {
			return Clip{}, err
		}
		return Clip{Encoding: EncodingLinear16, SampleRate: rate, MIME: "audio/wav", Data: pcm, Original: b}, nil
	case bytes.HasPrefix(b, []byte("OggS")):
		return Clip{Encoding: EncodingOggOpus, SampleRate: opusRate(b), MIME: "audio/ogg", Data: b, Original: b}, nil
	case bytes.HasPrefix(b, []byte("fLaC")):
		return Clip{Encoding: EncodingFLAC, MIME: "audio/flac", Data: b, Original: b}, nil
	case bytes.HasPrefix(b, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return Clip{Encoding: EncodingWebMOpus, SampleRate: webmOpusRate, MIME: "audio/webm", Data: b, Original: b}, nil
	}
	return Clip{}, fmt.Errorf("%w: unrecognised container (% x)", ErrUnsupportedAudio, b[:min(len(b), 4)])
}

// opusRate reads the input sample rate from the OpusHead packet of the
// first Ogg page, falling back to 16 kHz.
func opusRate(b []byte) int {
	i := bytes.Index(b, []byte("OpusHead"))
	if i < 0 || len(b) < i+16 {
		return defaultOpusRate
	}
	rate := int(binary.LittleEndian.Uint32(b[i+12 : i+16]))
	if rate < 8000 || rate > 48000 {
		return defaultOpusRate
	}
	return rate
}

// normaliseWAV decodes a RIFF/WAVE file and returns headerless mono 16-bit
// little-endian PCM plus its sample rate.
func normaliseWAV(b []byte) ([]byte, int, error) {
	d := wav.NewDecoder(bytes.NewReader(b))
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: invalid WAV header", ErrUnsupportedAudio)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode WAV: %w", ErrUnsupportedAudio, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("%w: WAV has no channels", ErrUnsupportedAudio)
	}
	mono := downmix(buf)
	depth := int(d.BitDepth)

	out := make([]byte, 2*len(mono))
	for i, v := range mono {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(toInt16(v, depth)))
	}
	return out, buf.Format.SampleRate, nil
}

// downmix averages interleaved channels into one.
func downmix(buf *audio.IntBuffer) []int {
	ch := buf.Format.NumChannels
	if ch == 1 {
		return buf.Data
	}
	frames := len(buf.Data) / ch
	out := make([]int, frames)
	for f := range frames {
		sum := 0
		for c := range ch {
			sum += buf.Data[f*ch+c]
		}
		out[f] = sum / ch
	}
	return out
}

// toInt16 rescales a sample of the given bit depth to 16 bits. 8-bit WAV
// samples are unsigned.
func toInt16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}
