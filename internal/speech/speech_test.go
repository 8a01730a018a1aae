package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// makeWAV builds a PCM RIFF/WAVE file from interleaved samples.
func makeWAV(t *testing.T, channels, rate, bits int, samples []int) []byte {
	t.Helper()
	bytesPer := bits / 8
	data := new(bytes.Buffer)
	for _, s := range samples {
		switch bits {
		case 8:
			data.WriteByte(byte(s))
		case 16:
			require.NoError(t, binary.Write(data, binary.LittleEndian, int16(s)))
		default:
			t.Fatalf("unsupported bits %d", bits)
		}
	}

	b := new(bytes.Buffer)
	le := binary.LittleEndian
	b.WriteString("RIFF")
	_ = binary.Write(b, le, uint32(36+data.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(b, le, uint32(16))
	_ = binary.Write(b, le, uint16(1))
	_ = binary.Write(b, le, uint16(channels))
	_ = binary.Write(b, le, uint32(rate))
	_ = binary.Write(b, le, uint32(rate*channels*bytesPer))
	_ = binary.Write(b, le, uint16(channels*bytesPer))
	_ = binary.Write(b, le, uint16(bits))
	b.WriteString("data")
	_ = binary.Write(b, le, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}

func pcm16(t *testing.T, b []byte) []int16 {
	t.Helper()
	out := make([]int16, len(b)/2)
	require.NoError(t, binary.Read(bytes.NewReader(b), binary.LittleEndian, out))
	return out
}

func TestPrepare_Empty(t *testing.T) {
	t.Parallel()
	_, err := Prepare(nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestPrepare_Unsupported(t *testing.T) {
	t.Parallel()
	_, err := Prepare([]byte("ID3\x04 mp3 frames"))
	assert.ErrorIs(t, err, ErrUnsupportedAudio)
}

func TestPrepare_Containers(t *testing.T) {
	t.Parallel()

	opusHead := append([]byte("OggS\x00\x02"), make([]byte, 22)...)
	opusHead = append(opusHead, []byte("OpusHead\x01\x01\x38\x01")...)
	rate := make([]byte, 4)
	binary.LittleEndian.PutUint32(rate, 24000)
	opusHead = append(opusHead, rate...)

	tests := []struct {
		name     string
		in       []byte
		encoding Encoding
		rate     int
		mime     string
	}{
		{"ogg with OpusHead", opusHead, EncodingOggOpus, 24000, "audio/ogg"},
		{"ogg without OpusHead", []byte("OggS\x00\x02rest"), EncodingOggOpus, 16000, "audio/ogg"},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), EncodingFLAC, 0, "audio/flac"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, EncodingWebMOpus, 48000, "audio/webm"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clip, err := Prepare(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.encoding, clip.Encoding)
			assert.Equal(t, tc.rate, clip.SampleRate)
			assert.Equal(t, tc.mime, clip.MIME)
			assert.Equal(t, tc.in, clip.Data)
		})
	}
}

func TestPrepare_WAVStereoDownmix(t *testing.T) {
	t.Parallel()

	in := makeWAV(t, 2, 8000, 16, []int{100, 300, -1000, -3000, 7, 9})
	clip, err := Prepare(in)
	require.NoError(t, err)
	assert.Equal(t, EncodingLinear16, clip.Encoding)
	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, in, clip.Original)
	assert.Equal(t, []int16{200, -2000, 8}, pcm16(t, clip.Data))
}

func TestPrepare_WAV8Bit(t *testing.T) {
	t.Parallel()

	clip, err := Prepare(makeWAV(t, 1, 16000, 8, []int{128, 255, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 127 << 8, -128 << 8}, pcm16(t, clip.Data))
}

func TestLocale(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ml-IN", Locale("ml", "IN"))
	assert.Equal(t, "en-IN", Locale("", "IN"))
	assert.Equal(t, "en-US", Locale("en-US", "IN"))
	assert.Equal(t, "hi", Locale("hi", ""))
}

// -----------------------------------------------------------------------------
// Google
// -----------------------------------------------------------------------------

type fakeRecognizer struct {
	resp *speechpb.RecognizeResponse
	err  error
	got  *speechpb.RecognizeRequest
}

func (f *fakeRecognizer) Recognize(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeRecognizer) Close() error { return nil }

func TestGoogle_JoinsTopAlternatives(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{resp: &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "ഇന്ന് വളം"}, {Transcript: "ignored"}}},
		{Alternatives: nil},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "ഇട്ടു"}}},
	}}}
	g := newGoogleWithRecognizer(rec, "")

	got, err := g.Transcribe(context.Background(), makeWAV(t, 1, 16000, 16, []int{1, 2}), "ml")
	require.NoError(t, err)
	assert.Equal(t, "ഇന്ന് വളം ഇട്ടു", got)

	cfg := rec.got.GetConfig()
	assert.Equal(t, "ml-IN", cfg.GetLanguageCode())
	assert.Equal(t, speechpb.RecognitionConfig_LINEAR16, cfg.GetEncoding())
	assert.Equal(t, int32(16000), cfg.GetSampleRateHertz())
	assert.Len(t, rec.got.GetAudio().GetContent(), 4)
}

func TestGoogle_NoResults(t *testing.T) {
	t.Parallel()

	g := newGoogleWithRecognizer(&fakeRecognizer{resp: &speechpb.RecognizeResponse{}}, "IN")
	got, err := g.Transcribe(context.Background(), []byte("fLaC...."), "hi")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGoogle_Errors(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{err: errors.New("quota exceeded")}
	g := newGoogleWithRecognizer(rec, "IN")

	_, err := g.Transcribe(context.Background(), []byte("fLaC...."), "hi")
	assert.ErrorIs(t, err, ErrTranscription)

	_, err = g.Transcribe(context.Background(), nil, "hi")
	assert.ErrorIs(t, err, ErrEmptyAudio)
	_, err = g.Transcribe(context.Background(), []byte("garbage"), "hi")
	assert.ErrorIs(t, err, ErrUnsupportedAudio)
}

// -----------------------------------------------------------------------------
// Gemini
// -----------------------------------------------------------------------------

type fakeGenerator struct {
	text     string
	err      error
	model    string
	contents []*genai.Content
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
	}}}, nil
}

func TestGemini_SendsOriginalClip(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{text: "  आज खाद डाला \n"}
	g := newGeminiWithGenerator(gen, GeminiConfig{})
	wav := makeWAV(t, 2, 8000, 16, []int{1, 2})

	got, err := g.Transcribe(context.Background(), wav, "hi")
	require.NoError(t, err)
	assert.Equal(t, "आज खाद डाला", got)
	assert.Equal(t, defaultGeminiModel, gen.model)

	require.Len(t, gen.contents, 1)
	parts := gen.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "hi-IN")
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "audio/wav", parts[1].InlineData.MIMEType)
	assert.Equal(t, wav, parts[1].InlineData.Data)
}

func TestGemini_Failure(t *testing.T) {
	t.Parallel()

	g := newGeminiWithGenerator(&fakeGenerator{err: errors.New("503")}, GeminiConfig{Model: "m"})
	_, err := g.Transcribe(context.Background(), []byte("OggS...."), "ml")
	assert.ErrorIs(t, err, ErrTranscription)
}

// stalled blocks every call until the context is done.
type stalled struct{}

func (stalled) Recognize(ctx context.Context, _ *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalled) Close() error { return nil }

func (stalled) GenerateContent(ctx context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTranscribe_Timeout(t *testing.T) {
	t.Parallel()

	google := newGoogleWithRecognizer(stalled{}, "IN")
	google.timeout = 20 * time.Millisecond
	gemini := newGeminiWithGenerator(stalled{}, GeminiConfig{Timeout: 20 * time.Millisecond})

	for name, tr := range map[string]Transcriber{"google": google, "gemini": gemini} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			start := time.Now()
			_, err := tr.Transcribe(context.Background(), []byte("fLaC...."), "hi")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTranscription)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestDefaultTimeouts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultTimeout, newGoogleWithRecognizer(&fakeRecognizer{}, "").timeout)
	assert.Equal(t, DefaultTimeout, newGeminiWithGenerator(&fakeGenerator{}, GeminiConfig{}).timeout)
}
