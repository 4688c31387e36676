package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cadenhq/speechwire/pkg/async"
	"github.com/cadenhq/speechwire/pkg/events"
)

// defaultChunkSize is 100 ms of 16 kHz 16-bit mono audio.
const defaultChunkSize = 3200

// ReaderSource streams PCM audio from an io.Reader in fixed-size chunks. If
// the stream starts with a RIFF/WAVE header the header is skipped and the
// format is taken from it.
type ReaderSource struct {
	id        string
	events    *events.Source
	chunkSize int

	mu           sync.Mutex
	reader       io.Reader
	format       Format
	converter    *FormatConverter
	headerParsed bool
	ended        bool
	nodes        map[string]*readerNode
}

// ReaderOption configures a ReaderSource.
type ReaderOption func(*ReaderSource)

// WithFormat sets the PCM format of the reader's data. Ignored when a WAV
// header is present — the header wins.
func WithFormat(f Format) ReaderOption {
	return func(s *ReaderSource) { s.format = f }
}

// WithTargetFormat converts chunks to the given format regardless of the
// input's own layout. Useful when the service wants 16 kHz mono and the
// source file is something else.
func WithTargetFormat(f Format) ReaderOption {
	return func(s *ReaderSource) { s.converter = &FormatConverter{Target: f} }
}

// WithChunkSize sets the read chunk size in bytes.
func WithChunkSize(size int) ReaderOption {
	return func(s *ReaderSource) { s.chunkSize = size }
}

// NewReaderSource creates a Source streaming from r.
func NewReaderSource(r io.Reader, opts ...ReaderOption) (*ReaderSource, error) {
	if r == nil {
		return nil, errors.New("audio: reader must not be nil")
	}
	id := events.NoDashUUID()
	s := &ReaderSource{
		id:        id,
		events:    events.NewSource(map[string]string{"audioSourceId": id}),
		chunkSize: defaultChunkSize,
		reader:    r,
		format:    DefaultFormat,
		nodes:     make(map[string]*readerNode),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ID returns the source correlation id.
func (s *ReaderSource) ID() string { return s.id }

// Format reports the PCM layout. When the stream carries a WAV header the
// value is only authoritative after the first read.
func (s *ReaderSource) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.converter != nil {
		return s.converter.Target
	}
	return s.format
}

// Events returns the source's event source.
func (s *ReaderSource) Events() *events.Source { return s.events }

// TurnOn marks the source ready.
func (s *ReaderSource) TurnOn() *async.Promise[bool] {
	s.emit(events.KindAudioSourceReady, "")
	return async.FromResult(true)
}

// TurnOff marks the source off.
func (s *ReaderSource) TurnOff() *async.Promise[bool] {
	s.emit(events.KindAudioSourceOff, "")
	return async.FromResult(true)
}

// Attach registers a stream node reading from the source.
func (s *ReaderSource) Attach(audioNodeID string) *async.Promise[StreamNode] {
	s.emit(events.KindAudioNodeAttaching, audioNodeID)

	s.mu.Lock()
	node := &readerNode{source: s, id: audioNodeID}
	s.nodes[audioNodeID] = node
	s.mu.Unlock()

	s.emit(events.KindAudioNodeAttached, audioNodeID)
	return async.FromResult[StreamNode](node)
}

// Detach releases the node registered under audioNodeID.
func (s *ReaderSource) Detach(audioNodeID string) {
	s.mu.Lock()
	node := s.nodes[audioNodeID]
	delete(s.nodes, audioNodeID)
	s.mu.Unlock()

	if node != nil {
		node.markDetached()
		s.emit(events.KindAudioNodeDetached, audioNodeID)
	}
}

func (s *ReaderSource) emit(kind events.Kind, audioNodeID string) {
	e := events.New(kind, events.LevelInfo)
	e.AudioNodeID = audioNodeID
	_ = s.events.OnEvent(e)
}

// readChunk pulls the next chunk from the underlying reader. Reads are
// serialized under s.mu so chunk boundaries stay stable with multiple nodes.
func (s *ReaderSource) readChunk() (StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return StreamChunk{IsEnd: true}, nil
	}
	if !s.headerParsed {
		s.headerParsed = true
		if err := s.skipWAVHeader(); err != nil {
			return StreamChunk{}, err
		}
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.reader, buf)
	switch {
	case err == io.EOF:
		s.ended = true
		return StreamChunk{IsEnd: true}, nil
	case err == io.ErrUnexpectedEOF:
		s.ended = true
		return StreamChunk{Buffer: s.convert(buf[:n])}, nil
	case err != nil:
		return StreamChunk{}, fmt.Errorf("audio: read chunk: %w", err)
	}
	return StreamChunk{Buffer: s.convert(buf)}, nil
}

// convert runs a chunk through the target-format converter when one is
// configured. Must be called with s.mu held.
func (s *ReaderSource) convert(pcm []byte) []byte {
	if s.converter == nil {
		return pcm
	}
	return s.converter.Convert(pcm, s.format)
}

// skipWAVHeader consumes a RIFF/WAVE header when present, updating the
// source format from the fmt sub-chunk. Must be called with s.mu held.
func (s *ReaderSource) skipWAVHeader() error {
	br := bufio.NewReader(s.reader)
	s.reader = br

	head, err := br.Peek(12)
	if err != nil || string(head[0:4]) != "RIFF" || string(head[8:12]) != "WAVE" {
		// Raw PCM: nothing to skip.
		return nil
	}
	if _, err := br.Discard(12); err != nil {
		return fmt.Errorf("audio: skip RIFF header: %w", err)
	}

	// Walk sub-chunks until "data".
	for {
		chunkHead, err := br.Peek(8)
		if err != nil {
			return fmt.Errorf("audio: malformed WAV header: %w", err)
		}
		chunkID := string(chunkHead[0:4])
		chunkLen := int(binary.LittleEndian.Uint32(chunkHead[4:8]))
		if _, err := br.Discard(8); err != nil {
			return fmt.Errorf("audio: malformed WAV header: %w", err)
		}
		if chunkID == "data" {
			return nil
		}
		if chunkID == "fmt " && chunkLen >= 16 {
			fmtChunk, err := br.Peek(16)
			if err != nil {
				return fmt.Errorf("audio: malformed WAV fmt chunk: %w", err)
			}
			s.format = Format{
				Channels:      int(binary.LittleEndian.Uint16(fmtChunk[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(fmtChunk[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(fmtChunk[14:16])),
			}
		}
		if _, err := br.Discard(chunkLen); err != nil {
			return fmt.Errorf("audio: malformed WAV chunk %q: %w", chunkID, err)
		}
	}
}

// readerNode is a stream node over a ReaderSource.
type readerNode struct {
	source *ReaderSource
	id     string

	mu       sync.Mutex
	detached bool
}

// ID returns the audio node id.
func (n *readerNode) ID() string { return n.id }

// Read returns a promise for the next chunk.
func (n *readerNode) Read() *async.Promise[StreamChunk] {
	d := async.NewDeferred[StreamChunk]()
	go func() {
		n.mu.Lock()
		detached := n.detached
		n.mu.Unlock()
		if detached {
			d.Reject(fmt.Errorf("audio: node %s is detached", n.id))
			return
		}

		chunk, err := n.source.readChunk()
		if err != nil {
			d.Reject(err)
			return
		}
		d.Resolve(chunk)
	}()
	return d.Promise()
}

// Detach releases the node.
func (n *readerNode) Detach() {
	n.markDetached()
	n.source.mu.Lock()
	delete(n.source.nodes, n.id)
	n.source.mu.Unlock()
}

func (n *readerNode) markDetached() {
	n.mu.Lock()
	n.detached = true
	n.mu.Unlock()
}
